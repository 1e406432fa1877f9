package tenancy

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse member phone numbers without a country code
const DefaultPhoneRegion = "US"

// SaveTenantRequest is the owner's configuration form
type SaveTenantRequest struct {
	DisplayName  string `json:"display_name"`
	Slug         string `json:"slug"`
	SharedSecret string `json:"shared_secret"`
}

// Validate will validate the payload
func (r SaveTenantRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Slug, validation.Length(0, 200)),
		validation.Field(&r.SharedSecret, validation.Length(MinSharedSecretLength, 200)),
	)
}

// RenameRequest changes the tenant slug
type RenameRequest struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name,omitempty"`
	Reprovision bool   `json:"reprovision"`
}

// Validate will validate the payload
func (r RenameRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Slug, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
	)
}

// RenameReport describes a completed rename
type RenameReport struct {
	Tenant               *TenantRecord `json:"tenant"`
	PreviousSlug         string        `json:"previous_slug"`
	Roster               *RosterReport `json:"roster,omitempty"`
	Orphaned             []string      `json:"orphaned,omitempty"`
	PreviousSlugReleased bool          `json:"previous_slug_released"`
}

// AddMemberRequest creates a roster entry
type AddMemberRequest struct {
	DisplayName    string  `json:"display_name"`
	CommissionRate float64 `json:"commission_rate"`
	Phone          string  `json:"phone,omitempty"`
	Inactive       bool    `json:"inactive,omitempty"`
}

// Validate will validate the payload
func (r AddMemberRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 200),
			validation.By(requireSlugText)),
		validation.Field(&r.CommissionRate, validation.Min(0.0), validation.Max(1.0)),
	)
}

// UpdateMemberRequest changes mutable member fields, nil fields are kept
type UpdateMemberRequest struct {
	CommissionRate *float64 `json:"commission_rate,omitempty"`
	Active         *bool    `json:"active,omitempty"`
	Phone          *string  `json:"phone,omitempty"`
}

func requireSlugText(value any) error {
	s, _ := value.(string)
	if Slugify(s) == "" {
		return errors.New("must contain letters or digits")
	}
	return nil
}

// TenantService manages tenant configuration and rosters for owners
type TenantService struct {
	store       TenantStore
	registry    *Registry
	provisioner *Provisioner
	logger      Logger
	activity    ActivitySink
	region      string
	now         func() time.Time
}

// TenantServiceOption configures a TenantService
type TenantServiceOption func(*TenantService)

func WithTenantServiceLogger(l Logger) TenantServiceOption {
	return func(s *TenantService) {
		s.logger = l
	}
}

func WithTenantServiceActivitySink(a ActivitySink) TenantServiceOption {
	return func(s *TenantService) {
		s.activity = a
	}
}

// WithPhoneRegion sets the region used for numbers without country code
func WithPhoneRegion(region string) TenantServiceOption {
	return func(s *TenantService) {
		if region != "" {
			s.region = strings.ToUpper(region)
		}
	}
}

func WithTenantServiceClock(now func() time.Time) TenantServiceOption {
	return func(s *TenantService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTenantService creates a TenantService
func NewTenantService(store TenantStore, registry *Registry, provisioner *Provisioner, opts ...TenantServiceOption) *TenantService {
	s := &TenantService{
		store:       store,
		registry:    registry,
		provisioner: provisioner,
		region:      DefaultPhoneRegion,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = normalizeLogger(s.logger)
	s.activity = normalizeActivitySink(s.activity)
	return s
}

// GetTenant returns the tenant record
func (s *TenantService) GetTenant(ctx context.Context, tenantID string) (*TenantRecord, error) {
	return s.store.ReadTenantRecord(ctx, tenantID)
}

// ListMembers returns the tenant roster
func (s *TenantService) ListMembers(ctx context.Context, tenantID string) ([]*MemberRecord, error) {
	return s.store.ListMembers(ctx, tenantID)
}

// SaveTenant creates the tenant on first save and updates the display name
// and secret afterwards. An empty slug keeps the current one, or derives it
// from the display name on creation. A changed slug goes through Rename without
// re-provisioning, so it is rejected while members depend on the old one.
func (s *TenantService) SaveTenant(ctx context.Context, tenantID string, req SaveTenantRequest) (*TenantRecord, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, NewInvalidInput(goerrors.New("tenant id is required", goerrors.CategoryValidation))
	}
	if err := req.Validate(); err != nil {
		return nil, NewInvalidInput(err)
	}

	current, err := s.store.ReadTenantRecord(ctx, tenantID)
	if err != nil && !IsRecordNotFound(err) {
		return nil, err
	}

	slug := Slugify(req.Slug)
	if slug == "" && current != nil {
		slug = current.TenantSlug
	}
	if slug == "" {
		slug = Slugify(req.DisplayName)
	}
	if slug == "" {
		return nil, NewInvalidInput(goerrors.New("display name yields an empty slug", goerrors.CategoryValidation))
	}

	if current == nil {
		return s.createTenant(ctx, tenantID, slug, req)
	}

	if current.TenantSlug != slug {
		report, err := s.Rename(ctx, tenantID, RenameRequest{Slug: slug, DisplayName: req.DisplayName})
		if err != nil {
			return nil, err
		}
		current = report.Tenant
	}

	current.DisplayName = strings.TrimSpace(req.DisplayName)
	current.UpdatedAt = s.now().UTC()
	if req.SharedSecret != "" && req.SharedSecret != current.SharedSecret {
		current.SharedSecret = req.SharedSecret
		current.SecretVersion++
	}
	if err := s.store.WriteTenantRecord(ctx, current); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save tenant")
	}
	return current, nil
}

func (s *TenantService) createTenant(ctx context.Context, tenantID, slug string, req SaveTenantRequest) (*TenantRecord, error) {
	if _, err := s.registry.RegisterSlug(ctx, tenantID, slug); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &TenantRecord{
		TenantID:     tenantID,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		TenantSlug:   slug,
		SharedSecret: req.SharedSecret,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.SharedSecret != "" {
		record.SecretVersion = 1
	}

	if err := s.store.WriteTenantRecord(ctx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create tenant")
	}
	s.logger.Info("tenant created", "tenant_id", tenantID, "slug", slug)
	return record, nil
}

// Rename switches the tenant slug. Members provisioned under the old slug
// pin it: the rename is blocked unless Reprovision is set, in which case
// every member is provisioned again under the new slug. The old slug stays
// registered until all of them succeed so their previous logins keep working.
func (s *TenantService) Rename(ctx context.Context, tenantID string, req RenameRequest) (*RenameReport, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidInput(err)
	}
	newSlug := Slugify(req.Slug)
	if newSlug == "" {
		return nil, NewInvalidInput(goerrors.New("slug is empty after normalization", goerrors.CategoryValidation))
	}

	record, err := s.store.ReadTenantRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	oldSlug := record.TenantSlug
	report := &RenameReport{PreviousSlug: oldSlug}
	if req.DisplayName != "" {
		record.DisplayName = strings.TrimSpace(req.DisplayName)
	}

	if oldSlug == newSlug {
		record.UpdatedAt = s.now().UTC()
		if err := s.store.WriteTenantRecord(ctx, record); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save tenant")
		}
		report.Tenant = record
		return report, nil
	}

	members, err := s.store.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list roster")
	}

	pinned := pinnedMembers(members, newSlug, tenantID)
	if len(pinned) > 0 && !req.Reprovision {
		ids := make([]string, 0, len(pinned))
		for _, m := range pinned {
			ids = append(ids, m.MemberID)
		}
		s.logger.Warn("rename blocked by provisioned members", "tenant_id", tenantID, "slug", oldSlug, "members", len(ids))
		return nil, NewRenameBlocked(tenantID, oldSlug, ids)
	}

	if _, err := s.registry.RegisterSlug(ctx, tenantID, newSlug); err != nil {
		return nil, err
	}

	record.TenantSlug = newSlug
	record.UpdatedAt = s.now().UTC()
	if err := s.store.WriteTenantRecord(ctx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save tenant")
	}
	report.Tenant = record

	release := len(pinned) == 0
	if len(pinned) > 0 {
		previous := map[string]string{}
		for _, m := range pinned {
			previous[m.MemberID] = m.SyntheticIdentifier
		}

		roster, err := s.provisioner.ProvisionRoster(ctx, tenantID)
		if err != nil {
			return report, err
		}
		report.Roster = roster

		done := map[string]bool{}
		for _, id := range roster.Provisioned {
			done[id] = true
			if old, ok := previous[id]; ok {
				report.Orphaned = append(report.Orphaned, old)
			}
		}
		release = true
		for id := range previous {
			if !done[id] {
				release = false
			}
		}
		sort.Strings(report.Orphaned)
	}

	if release && oldSlug != "" {
		if err := s.registry.ReleaseSlug(ctx, tenantID, oldSlug); err != nil {
			s.logger.Warn("failed to release previous slug", "slug", oldSlug, "error", err)
		} else {
			report.PreviousSlugReleased = true
		}
	}

	s.logger.Info("tenant renamed", "tenant_id", tenantID, "from", oldSlug, "to", newSlug)
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventTenantRenamed,
		TenantID:  tenantID,
		Metadata: map[string]any{
			"from":     oldSlug,
			"to":       newSlug,
			"orphaned": len(report.Orphaned),
			"released": report.PreviousSlugReleased,
		},
	})
	return report, nil
}

// pinnedMembers are provisioned members whose identifier would change under slug
func pinnedMembers(members []*MemberRecord, slug, tenantID string) []*MemberRecord {
	var out []*MemberRecord
	for _, m := range members {
		if m == nil || !m.Provisioned {
			continue
		}
		if m.SyntheticIdentifier != DeriveMemberIdentifier(slug, m.DisplayName, tenantID) {
			out = append(out, m)
		}
	}
	return out
}

// RotateSharedSecret replaces the tenant's shared secret. Accounts that were
// already created keep their password until provisioned again; see
// Provisioner.StaleMembers.
func (s *TenantService) RotateSharedSecret(ctx context.Context, tenantID, secret string) (*TenantRecord, error) {
	if err := validation.Validate(secret, validation.Required, validation.Length(MinSharedSecretLength, 200)); err != nil {
		return nil, NewInvalidInput(err)
	}

	record, err := s.store.ReadTenantRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	record.SharedSecret = secret
	record.SecretVersion++
	record.UpdatedAt = s.now().UTC()
	if err := s.store.WriteTenantRecord(ctx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate shared secret")
	}

	s.logger.Info("shared secret rotated", "tenant_id", tenantID, "version", record.SecretVersion)
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventSecretRotated,
		TenantID:  tenantID,
		Metadata:  map[string]any{"version": record.SecretVersion},
	})
	return record, nil
}

// AddMember creates a roster entry. The synthetic identifier is derived from
// the current slug; the account is created by the provisioner.
func (s *TenantService) AddMember(ctx context.Context, tenantID string, req AddMemberRequest) (*MemberRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, NewInvalidInput(err)
	}

	record, err := s.store.ReadTenantRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	phone, err := s.normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	member := &MemberRecord{
		MemberID:            uuid.NewString(),
		TenantID:            tenantID,
		DisplayName:         strings.TrimSpace(req.DisplayName),
		CommissionRate:      req.CommissionRate,
		Active:              !req.Inactive,
		Phone:               phone,
		SyntheticIdentifier: DeriveMemberIdentifier(record.TenantSlug, req.DisplayName, tenantID),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.store.WriteMember(ctx, member); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create member")
	}
	s.logger.Debug("member added", "tenant_id", tenantID, "member_id", member.MemberID)
	return member, nil
}

// UpdateMember changes commission, active flag or phone
func (s *TenantService) UpdateMember(ctx context.Context, tenantID, memberID string, req UpdateMemberRequest) (*MemberRecord, error) {
	member, err := s.store.ReadMember(ctx, tenantID, memberID)
	if err != nil {
		return nil, err
	}

	if req.CommissionRate != nil {
		if err := validation.Validate(*req.CommissionRate, validation.Min(0.0), validation.Max(1.0)); err != nil {
			return nil, NewInvalidInput(err)
		}
		member.CommissionRate = *req.CommissionRate
	}
	if req.Active != nil {
		member.Active = *req.Active
	}
	if req.Phone != nil {
		phone, err := s.normalizePhone(*req.Phone)
		if err != nil {
			return nil, err
		}
		member.Phone = phone
	}

	member.UpdatedAt = s.now().UTC()
	if err := s.store.WriteMember(ctx, member); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update member")
	}
	return member, nil
}

// RemoveMember deletes the roster document and returns the login identifier
// left behind at the identity provider. Deleting that principal is a manual
// follow up.
func (s *TenantService) RemoveMember(ctx context.Context, tenantID, memberID string) (string, error) {
	member, err := s.store.ReadMember(ctx, tenantID, memberID)
	if err != nil {
		return "", err
	}
	if err := s.store.DeleteMember(ctx, tenantID, memberID); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete member")
	}

	orphaned := ""
	if member.Provisioned {
		orphaned = member.SyntheticIdentifier
		s.logger.Warn("member removed, principal left at identity provider",
			"member_id", memberID,
			"identifier", orphaned,
		)
	}
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:   ActivityEventMemberRemoved,
		TenantID:    tenantID,
		MemberID:    memberID,
		PrincipalID: member.PrincipalID,
		Metadata:    map[string]any{"orphaned": orphaned},
	})
	return orphaned, nil
}

func (s *TenantService) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, s.region)
	if err != nil {
		return "", NewInvalidInput(goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number"))
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", NewInvalidInput(goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"phone": raw}))
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
