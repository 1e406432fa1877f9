package tenancy

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// RenameTenantMessage changes a tenant slug
type RenameTenantMessage struct {
	TenantID    string `json:"tenant_id"`
	Slug        string `json:"slug" example:"nach-barbershop" doc:"New tenant slug."`
	DisplayName string `json:"display_name,omitempty"`
	Reprovision bool   `json:"reprovision" doc:"Provision the whole roster under the new slug."`
	OnResponse  func(report *RenameReport)
}

func (m RenameTenantMessage) Type() string { return "tenancy.tenant.rename" }

// Validate will validate the payload
func (m RenameTenantMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TenantID, validation.Required),
		validation.Field(&m.Slug, validation.Required, validation.Length(1, 200)),
	)
}

// RenameTenantHandler runs RenameTenantMessage
type RenameTenantHandler struct {
	tenants *TenantService
	timeout time.Duration
}

func NewRenameTenantHandler(tenants *TenantService, timeout time.Duration) *RenameTenantHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RenameTenantHandler{tenants: tenants, timeout: timeout}
}

func (h *RenameTenantHandler) Execute(ctx context.Context, event RenameTenantMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during tenant rename")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RenameTenantHandler) execute(ctx context.Context, event RenameTenantMessage) error {
	if err := event.Validate(); err != nil {
		return NewInvalidInput(err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report, err := h.tenants.Rename(ctx, event.TenantID, RenameRequest{
		Slug:        event.Slug,
		DisplayName: event.DisplayName,
		Reprovision: event.Reprovision,
	})
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(report)
	}
	return nil
}
