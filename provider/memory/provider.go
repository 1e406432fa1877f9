// Package memory is an in-process identity provider used by tests, local
// development and the demo backend.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"

	"github.com/goliatone/go-tenancy"
)

// Operation names accepted by Fail
const (
	OpCreateAccount     = "create_account"
	OpAuthenticate      = "authenticate"
	OpSignOut           = "sign_out"
	OpSendPasswordReset = "send_password_reset"
)

type account struct {
	id     string
	secret string
}

// Provider keeps accounts in memory. Principal ids are derived from the
// identifier with hashid so they are stable across runs.
type Provider struct {
	*tenancy.PrincipalFeed

	mu       sync.Mutex
	accounts map[string]account
	failures map[string][]error
	resets   []string
	creates  int
	delay    time.Duration
}

// Option configures a Provider
type Option func(*Provider)

// WithAuthenticateDelay makes Authenticate wait d, honoring ctx
func WithAuthenticateDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.delay = d
	}
}

// New creates an empty provider
func New(opts ...Option) *Provider {
	p := &Provider{
		PrincipalFeed: tenancy.NewPrincipalFeed(),
		accounts:      map[string]account{},
		failures:      map[string][]error{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// PrincipalID returns the id the provider assigns to identifier
func PrincipalID(identifier string) (string, error) {
	id, err := hashid.NewUUID(normalize(identifier))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive principal id")
	}
	return "mem|" + id.String(), nil
}

// Fail queues err as the result of the next call to op
func (p *Provider) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

func (p *Provider) takeFailure(op string) error {
	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[op] = queue[1:]
	return err
}

// CreateAccount implements tenancy.AccountCreator
func (p *Provider) CreateAccount(ctx context.Context, identifier, secret string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", tenancy.NewProviderUnavailable(OpCreateAccount, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.creates++
	if err := p.takeFailure(OpCreateAccount); err != nil {
		return "", err
	}

	key := normalize(identifier)
	if _, ok := p.accounts[key]; ok {
		return "", tenancy.NewAccountExists(key, nil)
	}

	id, err := PrincipalID(key)
	if err != nil {
		return "", err
	}
	p.accounts[key] = account{id: id, secret: secret}
	return id, nil
}

// LookupPrincipal implements tenancy.PrincipalLookup
func (p *Provider) LookupPrincipal(_ context.Context, identifier string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[normalize(identifier)]
	if !ok {
		return "", tenancy.NewRecordNotFound("principal", identifier)
	}
	return acc.id, nil
}

// Authenticate checks the secret and publishes the principal on success
func (p *Provider) Authenticate(ctx context.Context, identifier, secret string) (*tenancy.Principal, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, tenancy.NewProviderUnavailable(OpAuthenticate, ctx.Err())
		}
	}

	key := normalize(identifier)

	p.mu.Lock()
	if err := p.takeFailure(OpAuthenticate); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	acc, ok := p.accounts[key]
	p.mu.Unlock()

	if !ok || acc.secret != secret {
		return nil, tenancy.NewInvalidCredential(key, nil)
	}

	principal := &tenancy.Principal{ID: acc.id, Identifier: key}
	p.Publish(principal)
	return principal, nil
}

// SignOut publishes an empty principal
func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	err := p.takeFailure(OpSignOut)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.Publish(nil)
	return nil
}

// SendPasswordReset records the request
func (p *Provider) SendPasswordReset(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure(OpSendPasswordReset); err != nil {
		return err
	}
	p.resets = append(p.resets, normalize(email))
	return nil
}

// SetPassword changes an account secret, as an out of band reset would
func (p *Provider) SetPassword(identifier, secret string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := normalize(identifier)
	acc, ok := p.accounts[key]
	if !ok {
		return false
	}
	acc.secret = secret
	p.accounts[key] = acc
	return true
}

// Accounts returns the number of accounts
func (p *Provider) Accounts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// HasAccount reports whether identifier exists
func (p *Provider) HasAccount(identifier string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.accounts[normalize(identifier)]
	return ok
}

// CreateCalls returns how many times CreateAccount was called
func (p *Provider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// PasswordResets returns the recorded reset requests
func (p *Provider) PasswordResets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}

var _ tenancy.IdentityProvider = (*Provider)(nil)
var _ tenancy.PrincipalLookup = (*Provider)(nil)
