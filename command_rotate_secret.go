package tenancy

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// RotateSecretMessage replaces a tenant's shared secret
type RotateSecretMessage struct {
	TenantID   string `json:"tenant_id"`
	Secret     string `json:"secret"`
	OnResponse func(record *TenantRecord, stale []*MemberRecord)
}

func (m RotateSecretMessage) Type() string { return "tenancy.secret.rotate" }

// Validate will validate the payload
func (m RotateSecretMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TenantID, validation.Required),
		validation.Field(&m.Secret, validation.Required, validation.Length(MinSharedSecretLength, 200)),
	)
}

// RotateSecretHandler rotates the secret and reports members still on the
// previous one.
type RotateSecretHandler struct {
	tenants     *TenantService
	provisioner *Provisioner
}

func NewRotateSecretHandler(tenants *TenantService, p *Provisioner) *RotateSecretHandler {
	return &RotateSecretHandler{tenants: tenants, provisioner: p}
}

func (h *RotateSecretHandler) Execute(ctx context.Context, event RotateSecretMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during secret rotation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RotateSecretHandler) execute(ctx context.Context, event RotateSecretMessage) error {
	if err := event.Validate(); err != nil {
		return NewInvalidInput(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	record, err := h.tenants.RotateSharedSecret(ctx, event.TenantID, event.Secret)
	if err != nil {
		return err
	}

	stale, err := h.provisioner.StaleMembers(ctx, event.TenantID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list stale members")
	}

	if event.OnResponse != nil {
		event.OnResponse(record, stale)
	}
	return nil
}
