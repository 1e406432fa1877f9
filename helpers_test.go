package tenancy_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/memstore"
	"github.com/goliatone/go-tenancy/provider/memory"
)

const (
	testSecret = "s3cret-pass"
	ownerEmail = "owner@nach.test"
)

type fixture struct {
	store       *memstore.Store
	provider    *memory.Provider
	registry    *tenancy.Registry
	provisioner *tenancy.Provisioner
	tenants     *tenancy.TenantService
}

func newFixture(t *testing.T, opts ...tenancy.ProvisionerOption) *fixture {
	t.Helper()

	f := &fixture{
		store:    memstore.MustNew(),
		provider: memory.New(),
	}
	f.registry = tenancy.NewRegistry(f.store)

	opts = append([]tenancy.ProvisionerOption{tenancy.WithSecretHashCost(bcrypt.MinCost)}, opts...)
	f.provisioner = tenancy.NewProvisioner(f.store, f.provider, opts...)
	f.tenants = tenancy.NewTenantService(f.store, f.registry, f.provisioner)
	return f
}

// owner creates the owner account and returns its principal id
func (f *fixture) owner(t *testing.T, email string) string {
	t.Helper()
	id, err := f.provider.CreateAccount(context.Background(), email, testSecret)
	require.NoError(t, err)
	return id
}

func (f *fixture) tenant(t *testing.T, tenantID, name string) *tenancy.TenantRecord {
	t.Helper()
	record, err := f.tenants.SaveTenant(context.Background(), tenantID, tenancy.SaveTenantRequest{
		DisplayName:  name,
		SharedSecret: testSecret,
	})
	require.NoError(t, err)
	return record
}

func (f *fixture) member(t *testing.T, tenantID, name string) *tenancy.MemberRecord {
	t.Helper()
	m, err := f.tenants.AddMember(context.Background(), tenantID, tenancy.AddMemberRequest{
		DisplayName:    name,
		CommissionRate: 0.4,
	})
	require.NoError(t, err)
	return m
}

// countingSource records forced sign outs issued by the resolver
type countingSource struct {
	*memory.Provider
	signOuts atomic.Int32
}

func (c *countingSource) SignOut(ctx context.Context) error {
	c.signOuts.Add(1)
	return c.Provider.SignOut(ctx)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []tenancy.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, e tenancy.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, string(e.EventType))
	}
	return out
}

func waitState(t *testing.T, r *tenancy.SessionResolver, pred func(tenancy.SessionView) bool) tenancy.SessionView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	view, err := r.WaitFor(ctx, pred)
	require.NoError(t, err, "last view: %+v", view)
	return view
}
