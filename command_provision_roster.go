package tenancy

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ProvisionRosterMessage provisions every active member of a tenant
type ProvisionRosterMessage struct {
	TenantID   string `json:"tenant_id" example:"auth0|65f1c2" doc:"Owner principal id."`
	OnResponse func(report *RosterReport)
}

func (m ProvisionRosterMessage) Type() string { return "tenancy.roster.provision" }

// Validate will validate the payload
func (m ProvisionRosterMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TenantID, validation.Required),
	)
}

// ProvisionRosterHandler runs ProvisionRosterMessage
type ProvisionRosterHandler struct {
	provisioner *Provisioner
	timeout     time.Duration
}

// NewProvisionRosterHandler creates the handler. Roster runs call the
// provider once per member, so the timeout is larger than other handlers.
func NewProvisionRosterHandler(p *Provisioner, timeout time.Duration) *ProvisionRosterHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ProvisionRosterHandler{provisioner: p, timeout: timeout}
}

func (h *ProvisionRosterHandler) Execute(ctx context.Context, event ProvisionRosterMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during roster provisioning")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ProvisionRosterHandler) execute(ctx context.Context, event ProvisionRosterMessage) error {
	if err := event.Validate(); err != nil {
		return NewInvalidInput(err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report, err := h.provisioner.ProvisionRoster(ctx, event.TenantID)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to provision roster")
	}

	if event.OnResponse != nil {
		event.OnResponse(report)
	}
	return nil
}

// ProvisionMemberMessage provisions one roster member
type ProvisionMemberMessage struct {
	TenantID   string `json:"tenant_id"`
	MemberID   string `json:"member_id"`
	OnResponse func(member *MemberRecord)
}

func (m ProvisionMemberMessage) Type() string { return "tenancy.member.provision" }

// Validate will validate the payload
func (m ProvisionMemberMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TenantID, validation.Required),
		validation.Field(&m.MemberID, validation.Required),
	)
}

// ProvisionMemberHandler runs ProvisionMemberMessage
type ProvisionMemberHandler struct {
	store       TenantStore
	provisioner *Provisioner
}

func NewProvisionMemberHandler(store TenantStore, p *Provisioner) *ProvisionMemberHandler {
	return &ProvisionMemberHandler{store: store, provisioner: p}
}

func (h *ProvisionMemberHandler) Execute(ctx context.Context, event ProvisionMemberMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during member provisioning")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ProvisionMemberHandler) execute(ctx context.Context, event ProvisionMemberMessage) error {
	if err := event.Validate(); err != nil {
		return NewInvalidInput(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	record, err := h.store.ReadTenantRecord(ctx, event.TenantID)
	if err != nil {
		return err
	}
	member, err := h.store.ReadMember(ctx, event.TenantID, event.MemberID)
	if err != nil {
		return err
	}

	if err := h.provisioner.ProvisionMember(ctx, record.TenantID, record.TenantSlug, record.SharedSecret, member); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(member)
	}
	return nil
}
