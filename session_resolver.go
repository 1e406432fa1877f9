package tenancy

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultResolveTimeout bounds directory lookups for one provider event
const DefaultResolveTimeout = 10 * time.Second

// ErrResolverNotRunning is returned by operations that need the event loop
var ErrResolverNotRunning = goerrors.New("session resolver is not running", goerrors.CategoryOperation).
	WithTextCode("SESSION_RESOLVER_STOPPED").
	WithCode(goerrors.CodeInternal)

// RoleAssignment is what the directory knows about a principal
type RoleAssignment struct {
	Role     Role
	TenantID string
	MemberID string
}

// Known reports whether the directory recognized the principal
func (a RoleAssignment) Known() bool {
	return a.Role.IsValid() && a.TenantID != ""
}

// RoleDirectory looks up a principal's role by principal id
type RoleDirectory interface {
	LookupRole(ctx context.Context, p *Principal) (RoleAssignment, error)
}

// StoreDirectory resolves roles from tenant and member records
type StoreDirectory struct {
	store TenantStore
}

// NewStoreDirectory creates a RoleDirectory over store
func NewStoreDirectory(store TenantStore) *StoreDirectory {
	return &StoreDirectory{store: store}
}

// LookupRole returns Owner when a tenant record is keyed by the principal id,
// Member when an active roster entry references the principal. Unknown
// principals and inactive members yield an empty assignment.
func (d *StoreDirectory) LookupRole(ctx context.Context, p *Principal) (RoleAssignment, error) {
	if p == nil || p.ID == "" {
		return RoleAssignment{}, nil
	}

	record, err := d.store.ReadTenantRecord(ctx, p.ID)
	switch {
	case err == nil && record != nil:
		return RoleAssignment{Role: RoleOwner, TenantID: record.TenantID}, nil
	case err != nil && !IsRecordNotFound(err):
		return RoleAssignment{}, err
	}

	member, err := d.store.FindMemberByPrincipal(ctx, p.ID, p.Identifier)
	switch {
	case err == nil && member != nil && !member.Active:
		return RoleAssignment{}, nil
	case err == nil && member != nil:
		return RoleAssignment{Role: RoleMember, TenantID: member.TenantID, MemberID: member.MemberID}, nil
	case err != nil && !IsRecordNotFound(err):
		return RoleAssignment{}, err
	}

	return RoleAssignment{}, nil
}

// SessionResolver turns identity provider events into a SessionView and owns
// the device tenant pointer. Events and pointer binds run one at a time on a
// single loop goroutine started by Start.
type SessionResolver struct {
	source     PrincipalSource
	directory  RoleDirectory
	pointer    PointerStore
	logger     Logger
	metrics    Metrics
	activity   ActivitySink
	timeout    time.Duration
	firstLogin bool

	mu        sync.RWMutex
	view      SessionView
	watchers  map[int]func(SessionView)
	nextWatch int

	qmu         sync.Mutex
	queue       []resolverTask
	notify      chan struct{}
	running     bool
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()

	// loop owned
	lastKey     string
	seenLast    bool
	provisional string
}

type resolverTask struct {
	event     bool
	principal *Principal
	bind      string
	release   string
	result    chan error
}

// ResolverOption configures a SessionResolver
type ResolverOption func(*SessionResolver)

func WithResolverLogger(l Logger) ResolverOption {
	return func(r *SessionResolver) {
		r.logger = l
	}
}

func WithResolverMetrics(m Metrics) ResolverOption {
	return func(r *SessionResolver) {
		r.metrics = m
	}
}

func WithResolverActivitySink(s ActivitySink) ResolverOption {
	return func(r *SessionResolver) {
		r.activity = s
	}
}

// WithResolveTimeout bounds the directory lookup of one event
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *SessionResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithFirstLoginOwners controls how principals unknown to the directory are
// treated. When enabled (the default) a principal with a real address is
// admitted as owner of a tenant that has not saved its configuration yet.
// Unknown synthetic principals are always signed out.
func WithFirstLoginOwners(enabled bool) ResolverOption {
	return func(r *SessionResolver) {
		r.firstLogin = enabled
	}
}

// NewSessionResolver creates a resolver. Call Start to begin consuming events.
func NewSessionResolver(source PrincipalSource, directory RoleDirectory, pointer PointerStore, opts ...ResolverOption) *SessionResolver {
	r := &SessionResolver{
		source:     source,
		directory:  directory,
		pointer:    pointer,
		timeout:    DefaultResolveTimeout,
		firstLogin: true,
		view:       SessionView{State: SessionLoading},
		watchers:   map[int]func(SessionView){},
		notify:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = normalizeLogger(r.logger)
	r.metrics = normalizeMetrics(r.metrics)
	r.activity = normalizeActivitySink(r.activity)
	return r
}

// Start launches the event loop and subscribes to the provider. The loop
// stops when ctx is done or Stop is called.
func (r *SessionResolver) Start(ctx context.Context) error {
	r.qmu.Lock()
	if r.running {
		r.qmu.Unlock()
		return goerrors.New("session resolver already started", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.qmu.Unlock()

	go r.loop(ctx, stop, done)

	unsubscribe := r.source.Subscribe(func(p *Principal) {
		r.enqueue(resolverTask{event: true, principal: clonePrincipal(p)})
	})

	r.qmu.Lock()
	r.unsubscribe = unsubscribe
	r.qmu.Unlock()

	r.logger.Debug("session resolver started")
	return nil
}

// Stop unsubscribes from the provider and waits for the loop to exit
func (r *SessionResolver) Stop() {
	r.qmu.Lock()
	if !r.running {
		r.qmu.Unlock()
		return
	}
	r.running = false
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	stop, done := r.stop, r.done
	pending := r.queue
	r.queue = nil
	r.qmu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(stop)
	<-done

	for _, t := range pending {
		if t.result != nil {
			t.result <- ErrResolverNotRunning
		}
	}
	r.logger.Debug("session resolver stopped")
}

// View returns the current session snapshot
func (r *SessionResolver) View() SessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyView(r.view)
}

// Watch calls fn with the current view and on every change. fn runs on the
// resolver loop and must not block.
func (r *SessionResolver) Watch(fn func(SessionView)) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	current := copyView(r.view)
	r.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

// WaitFor blocks until pred accepts the current view or ctx is done
func (r *SessionResolver) WaitFor(ctx context.Context, pred func(SessionView) bool) (SessionView, error) {
	ch := make(chan SessionView, 1)
	cancel := r.Watch(func(v SessionView) {
		if pred(v) {
			select {
			case ch <- v:
			default:
			}
		}
	})
	defer cancel()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return r.View(), ctx.Err()
	}
}

// BindTenant points this device at tenantID. Staff logins call it after
// resolving the typed username and before authenticating. A device already
// bound to another tenant is refused with a DEVICE_BOUND error.
func (r *SessionResolver) BindTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return NewInvalidInput(goerrors.New("tenant id is required", goerrors.CategoryValidation))
	}
	return r.submit(ctx, resolverTask{bind: tenantID}, "binding tenant")
}

// ReleaseTenant undoes a BindTenant call whose login did not authenticate.
// Only a pointer written by that bind is removed.
func (r *SessionResolver) ReleaseTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return NewInvalidInput(goerrors.New("tenant id is required", goerrors.CategoryValidation))
	}
	return r.submit(ctx, resolverTask{release: tenantID}, "releasing tenant")
}

func (r *SessionResolver) submit(ctx context.Context, t resolverTask, action string) error {
	result := make(chan error, 1)
	t.result = result
	if !r.enqueue(t) {
		return ErrResolverNotRunning
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled while "+action)
	}
}

func (r *SessionResolver) enqueue(t resolverTask) bool {
	r.qmu.Lock()
	if !r.running {
		r.qmu.Unlock()
		return false
	}
	r.queue = append(r.queue, t)
	r.qmu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

func (r *SessionResolver) next() (resolverTask, bool) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if len(r.queue) == 0 {
		return resolverTask{}, false
	}
	t := r.queue[0]
	r.queue[0] = resolverTask{}
	r.queue = r.queue[1:]
	return t, true
}

func (r *SessionResolver) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-r.notify:
		}

		for {
			select {
			case <-stop:
				return
			default:
			}
			t, ok := r.next()
			if !ok {
				break
			}
			if t.event {
				r.handlePrincipal(ctx, t.principal)
				continue
			}
			var err error
			if t.release != "" {
				err = r.release(ctx, t.release)
			} else {
				err = r.bind(ctx, t.bind)
			}
			if t.result != nil {
				t.result <- err
			}
		}
	}
}

// bind only claims an empty pointer. Moving a device between tenants is
// left to owner logins.
func (r *SessionResolver) bind(ctx context.Context, tenantID string) error {
	previous, ok := r.pointer.Get(ActiveTenantKey)
	if ok && previous == tenantID {
		// the pointer predates this login, a failure must not release it
		r.provisional = ""
		return nil
	}
	if ok && previous != "" {
		r.logger.Warn("staff bind refused, device belongs to another tenant", "tenant_id", tenantID, "bound_tenant_id", previous)
		return NewDeviceBound(previous, tenantID)
	}
	if err := r.pointer.Set(ActiveTenantKey, tenantID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write tenant pointer")
	}
	r.provisional = tenantID
	r.logger.Info("tenant pointer bound", "tenant_id", tenantID)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventPointerBound,
		TenantID:  tenantID,
		Metadata:  map[string]any{"previous": previous, "source": "resolution"},
	})
	return nil
}

func (r *SessionResolver) release(ctx context.Context, tenantID string) error {
	if r.provisional != tenantID {
		return nil
	}
	r.provisional = ""
	if current, _ := r.pointer.Get(ActiveTenantKey); current != tenantID {
		return nil
	}
	if err := r.pointer.Delete(ActiveTenantKey); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear tenant pointer")
	}
	r.logger.Info("tenant pointer released", "tenant_id", tenantID)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventPointerReleased,
		TenantID:  tenantID,
	})
	return nil
}

func (r *SessionResolver) handlePrincipal(ctx context.Context, p *Principal) {
	key := principalKey(p)
	if r.seenLast && key == r.lastKey {
		return
	}
	r.seenLast = true
	r.lastKey = key

	view, signOut := r.resolve(ctx, p)
	if view.State == SessionAuthorized && view.TenantID == r.provisional {
		r.provisional = ""
	}
	if view.State == SessionUnauthorized && view.Err != nil && !IsSessionUnbound(view.Err) && !signOut {
		// lookup failure, let the next identical event retry
		r.seenLast = false
	}

	r.apply(view)

	if signOut {
		r.forceSignOut(ctx, p)
	}
}

func (r *SessionResolver) resolve(ctx context.Context, p *Principal) (SessionView, bool) {
	if p == nil {
		return SessionView{State: SessionUnauthenticated}, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	assignment, err := r.directory.LookupRole(lookupCtx, p)
	if err != nil {
		r.logger.Error("failed to look up principal role", "principal_id", p.ID, "error", err)
		return SessionView{State: SessionUnauthorized, Principal: p, Err: err}, false
	}

	if !assignment.Known() {
		if r.firstLogin && !IsSyntheticIdentifier(p.Identifier) {
			assignment = RoleAssignment{Role: RoleOwner, TenantID: p.ID}
		} else {
			r.logger.Warn("principal unknown to the directory", "principal_id", p.ID)
			return SessionView{State: SessionUnauthorized, Principal: p, Err: NewSessionUnbound(p.ID)}, true
		}
	}

	switch assignment.Role {
	case RoleOwner:
		if err := r.bindOwner(ctx, p.ID); err != nil {
			return SessionView{State: SessionUnauthorized, Principal: p, Err: err}, false
		}
		return SessionView{State: SessionAuthorized, TenantID: p.ID, Role: RoleOwner, Principal: p}, false
	default:
		pointer, ok := r.pointer.Get(ActiveTenantKey)
		if !ok || pointer == "" || pointer != assignment.TenantID {
			r.logger.Warn("staff principal without a matching tenant pointer",
				"principal_id", p.ID,
				"pointer", pointer,
			)
			return SessionView{State: SessionUnauthorized, Principal: p, Err: NewSessionUnbound(p.ID)}, true
		}
		return SessionView{State: SessionAuthorized, TenantID: pointer, Role: RoleMember, Principal: p}, false
	}
}

func (r *SessionResolver) bindOwner(ctx context.Context, tenantID string) error {
	r.provisional = ""
	previous, _ := r.pointer.Get(ActiveTenantKey)
	if previous == tenantID {
		return nil
	}
	if err := r.pointer.Set(ActiveTenantKey, tenantID); err != nil {
		r.logger.Error("failed to bind tenant pointer", "tenant_id", tenantID, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write tenant pointer")
	}
	r.logger.Info("tenant pointer bound", "tenant_id", tenantID, "previous", previous)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType:   ActivityEventPointerBound,
		TenantID:    tenantID,
		PrincipalID: tenantID,
		Metadata:    map[string]any{"previous": previous, "source": "owner_login"},
	})
	return nil
}

func (r *SessionResolver) apply(view SessionView) {
	r.mu.Lock()
	from := r.view.State
	if err := checkTransition(from, view.State); err != nil {
		r.mu.Unlock()
		r.logger.Error("rejected session transition", "from", from, "to", view.State, "error", err)
		return
	}
	changed := !r.view.Equal(view) || (r.view.Err == nil) != (view.Err == nil)
	r.view = view
	watchers := make([]func(SessionView), 0, len(r.watchers))
	for _, fn := range r.watchers {
		watchers = append(watchers, fn)
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	r.metrics.ObserveSessionState(view.State)
	r.logger.Debug("session state changed", "from", from, "to", view.State, "tenant_id", view.TenantID, "role", view.Role)
	for _, fn := range watchers {
		fn(copyView(view))
	}
}

func (r *SessionResolver) forceSignOut(ctx context.Context, p *Principal) {
	if current := r.source.Current(); principalKey(current) != principalKey(p) {
		r.logger.Info("skipping stale forced sign out", "principal_id", p.ID, "current_principal_id", principalID(current))
		return
	}
	r.metrics.ObserveForcedSignOut()
	if err := r.source.SignOut(ctx); err != nil {
		r.logger.Error("forced sign out failed", "principal_id", p.ID, "error", err)
	} else {
		r.logger.Info("forced sign out", "principal_id", p.ID)
	}
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType:   ActivityEventForcedSignOut,
		PrincipalID: p.ID,
		Metadata:    map[string]any{"identifier": p.Identifier},
	})
}

func copyView(v SessionView) SessionView {
	v.Principal = clonePrincipal(v.Principal)
	return v
}
