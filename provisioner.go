package tenancy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultProvisionConcurrency bounds parallel provider calls per roster run
const DefaultProvisionConcurrency = 4

// Provisioner creates identity provider accounts for roster members under
// the tenant's shared secret.
type Provisioner struct {
	store       TenantStore
	accounts    AccountCreator
	logger      Logger
	metrics     Metrics
	activity    ActivitySink
	limiter     *rate.Limiter
	concurrency int
	hashCost    int
	locks       *keyedLocker
	now         func() time.Time
}

// ProvisionerOption configures a Provisioner
type ProvisionerOption func(*Provisioner)

func WithProvisionerLogger(l Logger) ProvisionerOption {
	return func(p *Provisioner) {
		p.logger = l
	}
}

func WithProvisionerMetrics(m Metrics) ProvisionerOption {
	return func(p *Provisioner) {
		p.metrics = m
	}
}

func WithProvisionerActivitySink(s ActivitySink) ProvisionerOption {
	return func(p *Provisioner) {
		p.activity = s
	}
}

// WithProvisionConcurrency sets how many members a roster run provisions at once
func WithProvisionConcurrency(n int) ProvisionerOption {
	return func(p *Provisioner) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithProvisionRate limits provider account creation to rps calls per second
func WithProvisionRate(rps float64, burst int) ProvisionerOption {
	return func(p *Provisioner) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSecretHashCost sets the bcrypt cost of member secret fingerprints
func WithSecretHashCost(cost int) ProvisionerOption {
	return func(p *Provisioner) {
		p.hashCost = cost
	}
}

// WithProvisionerClock overrides time.Now
func WithProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvisioner creates a Provisioner
func NewProvisioner(store TenantStore, accounts AccountCreator, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		store:       store,
		accounts:    accounts,
		concurrency: DefaultProvisionConcurrency,
		locks:       newKeyedLocker(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = normalizeLogger(p.logger)
	p.metrics = normalizeMetrics(p.metrics)
	p.activity = normalizeActivitySink(p.activity)
	return p
}

// MemberFailure is one member a roster run could not provision
type MemberFailure struct {
	MemberID    string `json:"member_id"`
	DisplayName string `json:"display_name"`
	Identifier  string `json:"identifier"`
	Conflict    bool   `json:"conflict"`
	Reason      string `json:"reason"`
	Err         error  `json:"-"`
}

// RosterReport collects the outcome of a roster run. Successful members are
// never rolled back because of failures.
type RosterReport struct {
	TenantID    string          `json:"tenant_id"`
	Slug        string          `json:"slug"`
	Provisioned []string        `json:"provisioned"`
	Failures    []MemberFailure `json:"failures"`
}

// HasFailures reports whether any member failed
func (r *RosterReport) HasFailures() bool {
	return r != nil && len(r.Failures) > 0
}

// ProvisionMember creates the account for member at the identifier derived
// from slug and tenantID, using sharedSecret as password. An existing account
// counts as success. On success member is updated in place and persisted.
func (p *Provisioner) ProvisionMember(ctx context.Context, tenantID, slug, sharedSecret string, member *MemberRecord) error {
	if err := validateProvisionInput(tenantID, slug, sharedSecret, member); err != nil {
		return err
	}
	hash, err := HashSecret(sharedSecret, p.hashCost)
	if err != nil {
		return NewProvisioningFailed(member, err)
	}
	return p.provision(ctx, tenantID, Slugify(slug), sharedSecret, hash, member)
}

func validateProvisionInput(tenantID, slug, sharedSecret string, member *MemberRecord) error {
	switch {
	case member == nil:
		return NewInvalidInput(goerrors.New("member is required", goerrors.CategoryValidation))
	case strings.TrimSpace(tenantID) == "":
		return NewInvalidInput(goerrors.New("tenant id is required", goerrors.CategoryValidation))
	case Slugify(slug) == "":
		return NewInvalidInput(goerrors.New("tenant slug is required", goerrors.CategoryValidation))
	case sharedSecret == "":
		return NewInvalidInput(goerrors.New("shared secret is required", goerrors.CategoryValidation))
	case Slugify(member.DisplayName) == "":
		return NewInvalidInput(goerrors.New("member display name yields an empty username", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"member_id": member.MemberID}))
	case member.TenantID != "" && member.TenantID != tenantID:
		return NewInvalidInput(goerrors.New("member belongs to another tenant", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"member_id": member.MemberID}))
	}
	return nil
}

func (p *Provisioner) provision(ctx context.Context, tenantID, slug, secret, secretHash string, member *MemberRecord) error {
	identifier := DeriveMemberIdentifier(slug, member.DisplayName, tenantID)

	unlock := p.locks.Lock(identifier)
	defer unlock()

	holder, err := p.findHolder(ctx, tenantID, identifier, member.MemberID)
	if err != nil {
		return NewProvisioningFailed(member, err)
	}
	if holder != nil {
		p.metrics.ObserveProvision(OutcomeConflict)
		p.logger.Warn("derived identifier already held by another member",
			"identifier", identifier,
			"member_id", member.MemberID,
			"holder_id", holder.MemberID,
		)
		return NewIdentifierConflict(identifier, member.MemberID, holder.MemberID)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return NewProvisioningFailed(member, err)
		}
	}

	outcome := OutcomeSuccess
	principalID, err := p.accounts.CreateAccount(ctx, identifier, secret)
	if err != nil {
		if !IsAccountExists(err) {
			p.metrics.ObserveProvision(OutcomeFailure)
			p.logger.Error("failed to create member account", "identifier", identifier, "error", err)
			recordActivity(ctx, p.activity, p.logger, ActivityEvent{
				EventType: ActivityEventProvisionFailed,
				TenantID:  tenantID,
				MemberID:  member.MemberID,
				Metadata:  map[string]any{"identifier": identifier, "error": err.Error()},
			})
			return NewProvisioningFailed(member, err)
		}

		outcome = OutcomeExisting
		principalID = p.existingPrincipal(ctx, identifier, member)
		if member.SyntheticIdentifier == identifier {
			// the existing account keeps the password it was created with
			secretHash = member.SecretHash
		} else {
			secretHash = ""
		}
	}

	now := p.now().UTC()
	updated := member.Clone()
	updated.TenantID = tenantID
	updated.SyntheticIdentifier = identifier
	updated.Provisioned = true
	updated.PrincipalID = principalID
	updated.SecretHash = secretHash
	updated.UpdatedAt = now
	if outcome == OutcomeSuccess || updated.ProvisionedAt == nil {
		updated.ProvisionedAt = &now
	}
	if updated.CreatedAt.IsZero() {
		updated.CreatedAt = now
	}

	if err := p.store.WriteMember(ctx, updated); err != nil {
		p.metrics.ObserveProvision(OutcomeFailure)
		return NewProvisioningFailed(member, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist provisioned member"))
	}
	*member = *updated

	p.metrics.ObserveProvision(outcome)
	p.logger.Info("member provisioned", "member_id", member.MemberID, "identifier", identifier, "outcome", outcome)
	recordActivity(ctx, p.activity, p.logger, ActivityEvent{
		EventType:   ActivityEventMemberProvisioned,
		TenantID:    tenantID,
		MemberID:    member.MemberID,
		PrincipalID: principalID,
		Metadata:    map[string]any{"identifier": identifier, "outcome": outcome},
	})
	return nil
}

// findHolder returns another provisioned member already using identifier
func (p *Provisioner) findHolder(ctx context.Context, tenantID, identifier, memberID string) (*MemberRecord, error) {
	members, err := p.store.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list roster")
	}
	for _, m := range members {
		if m == nil || m.MemberID == memberID {
			continue
		}
		if m.Provisioned && m.SyntheticIdentifier == identifier {
			return m, nil
		}
	}
	return nil, nil
}

func (p *Provisioner) existingPrincipal(ctx context.Context, identifier string, member *MemberRecord) string {
	if member.SyntheticIdentifier == identifier && member.PrincipalID != "" {
		return member.PrincipalID
	}
	lookup, ok := p.accounts.(PrincipalLookup)
	if !ok {
		return ""
	}
	id, err := lookup.LookupPrincipal(ctx, identifier)
	if err != nil {
		p.logger.Warn("failed to look up existing principal", "identifier", identifier, "error", err)
		return ""
	}
	return id
}

// ProvisionRoster provisions every active member of the tenant. Members
// deriving the same identifier are resolved in favor of the one already
// holding it, then the oldest; the rest are reported as conflicts.
func (p *Provisioner) ProvisionRoster(ctx context.Context, tenantID string) (*RosterReport, error) {
	record, err := p.store.ReadTenantRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if record.SharedSecret == "" {
		return nil, NewInvalidInput(goerrors.New("tenant has no shared secret", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"tenant_id": tenantID}))
	}
	slug := Slugify(record.TenantSlug)
	if slug == "" {
		return nil, NewInvalidInput(goerrors.New("tenant has no slug", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"tenant_id": tenantID}))
	}

	members, err := p.store.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list roster")
	}

	hash, err := HashSecret(record.SharedSecret, p.hashCost)
	if err != nil {
		return nil, err
	}

	report := &RosterReport{TenantID: tenantID, Slug: slug}
	var mu sync.Mutex

	fail := func(m *MemberRecord, identifier string, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failures = append(report.Failures, MemberFailure{
			MemberID:    m.MemberID,
			DisplayName: m.DisplayName,
			Identifier:  identifier,
			Conflict:    IsIdentifierConflict(err),
			Reason:      err.Error(),
			Err:         err,
		})
	}

	winners, losers := groupByIdentifier(members, slug, tenantID)
	for _, l := range losers {
		p.metrics.ObserveProvision(OutcomeConflict)
		fail(l.member, l.identifier, NewIdentifierConflict(l.identifier, l.member.MemberID, l.holderID))
	}

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, m := range winners {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(m, DeriveMemberIdentifier(slug, m.DisplayName, tenantID), NewProvisioningFailed(m, err))
				return nil
			}
			if err := p.provision(ctx, tenantID, slug, record.SharedSecret, hash, m); err != nil {
				fail(m, DeriveMemberIdentifier(slug, m.DisplayName, tenantID), err)
				return nil
			}
			mu.Lock()
			report.Provisioned = append(report.Provisioned, m.MemberID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Provisioned)
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].MemberID < report.Failures[j].MemberID
	})

	p.logger.Info("roster provisioned",
		"tenant_id", tenantID,
		"provisioned", len(report.Provisioned),
		"failed", len(report.Failures),
	)
	return report, nil
}

type rosterLoser struct {
	member     *MemberRecord
	identifier string
	holderID   string
}

func groupByIdentifier(members []*MemberRecord, slug, tenantID string) ([]*MemberRecord, []rosterLoser) {
	groups := map[string][]*MemberRecord{}
	var order []string
	for _, m := range members {
		if m == nil || !m.Active || Slugify(m.DisplayName) == "" {
			continue
		}
		id := DeriveMemberIdentifier(slug, m.DisplayName, tenantID)
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], m)
	}

	var winners []*MemberRecord
	var losers []rosterLoser
	for _, id := range order {
		group := groups[id]
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i], group[j]
			ah := a.Provisioned && a.SyntheticIdentifier == id
			bh := b.Provisioned && b.SyntheticIdentifier == id
			if ah != bh {
				return ah
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.MemberID < b.MemberID
		})
		winners = append(winners, group[0])
		for _, m := range group[1:] {
			losers = append(losers, rosterLoser{member: m, identifier: id, holderID: group[0].MemberID})
		}
	}
	return winners, losers
}

// StaleMembers lists provisioned members whose account was not created with
// the tenant's current shared secret. Rotating the secret does not update
// existing accounts; these members need to be provisioned again.
func (p *Provisioner) StaleMembers(ctx context.Context, tenantID string) ([]*MemberRecord, error) {
	record, err := p.store.ReadTenantRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	members, err := p.store.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list roster")
	}

	var stale []*MemberRecord
	for _, m := range members {
		if m == nil || !m.Provisioned {
			continue
		}
		ok, err := SecretMatchesHash(record.SharedSecret, m.SecretHash)
		if err != nil {
			p.logger.Warn("unreadable member secret fingerprint", "member_id", m.MemberID, "error", err)
		}
		if !ok {
			stale = append(stale, m)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].MemberID < stale[j].MemberID })
	return stale, nil
}

// keyedLocker serializes work per key
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: map[string]*keyedLock{}}
}

func (k *keyedLocker) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
