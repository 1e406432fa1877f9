package tenancy

import (
	"sync"
)

// PrincipalFeed keeps the current principal and fans changes out to
// subscribers. Identity provider adapters embed it to implement Subscribe.
type PrincipalFeed struct {
	mu        sync.Mutex
	current   *Principal
	nextID    int
	listeners map[int]PrincipalListener
	// serializes deliveries so listeners observe events in order
	deliver sync.Mutex
}

// NewPrincipalFeed creates an empty feed
func NewPrincipalFeed() *PrincipalFeed {
	return &PrincipalFeed{listeners: map[int]PrincipalListener{}}
}

// Subscribe registers fn and immediately delivers the current principal
func (f *PrincipalFeed) Subscribe(fn PrincipalListener) func() {
	if fn == nil {
		return func() {}
	}

	f.mu.Lock()
	if f.listeners == nil {
		f.listeners = map[int]PrincipalListener{}
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	current := clonePrincipal(f.current)
	f.mu.Unlock()

	f.deliver.Lock()
	fn(current)
	f.deliver.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
		})
	}
}

// Current returns a copy of the current principal
func (f *PrincipalFeed) Current() *Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clonePrincipal(f.current)
}

// Publish replaces the current principal and notifies every subscriber
func (f *PrincipalFeed) Publish(p *Principal) {
	f.mu.Lock()
	f.current = clonePrincipal(p)
	listeners := make([]PrincipalListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	f.deliver.Lock()
	defer f.deliver.Unlock()
	for _, fn := range listeners {
		fn(clonePrincipal(p))
	}
}

func clonePrincipal(p *Principal) *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
