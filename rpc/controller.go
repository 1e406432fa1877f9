// Package rpc exposes the privileged provisioning operations over HTTP. The
// backend runs them with the identity provider's management credential;
// owners call them with a bearer token issued for their tenant.
package rpc

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/middleware/jwtware"
)

// TenantParam is the route parameter holding the tenant id
const TenantParam = "tenant"

// Routes are the paths served by the controller
type Routes struct {
	ProvisionRoster string
	ProvisionMember string
	Rename          string
	RotateSecret    string
	StaleMembers    string
}

// DefaultRoutes returns the default route table
func DefaultRoutes() Routes {
	return Routes{
		ProvisionRoster: "/tenants/:tenant/roster/provision",
		ProvisionMember: "/tenants/:tenant/members/:member/provision",
		Rename:          "/tenants/:tenant/rename",
		RotateSecret:    "/tenants/:tenant/secret",
		StaleMembers:    "/tenants/:tenant/members/stale",
	}
}

// Services are the domain components the controller drives
type Services struct {
	Store         tenancy.TenantStore
	Provisioner   *tenancy.Provisioner
	Tenants       *tenancy.TenantService
	RosterTimeout time.Duration
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

func WithLogger(l tenancy.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithRoutes replaces the route table
func WithRoutes(r Routes) ControllerOption {
	return func(c *Controller) {
		c.Routes = r
	}
}

// Controller serves the provisioning RPC
type Controller struct {
	Routes Routes

	logger      tenancy.Logger
	provisioner *tenancy.Provisioner
	roster      *tenancy.ProvisionRosterHandler
	member      *tenancy.ProvisionMemberHandler
	rename      *tenancy.RenameTenantHandler
	rotate      *tenancy.RotateSecretHandler
}

// NewController wires the command handlers
func NewController(svc Services, opts ...ControllerOption) *Controller {
	c := &Controller{
		Routes:      DefaultRoutes(),
		provisioner: svc.Provisioner,
		roster:      tenancy.NewProvisionRosterHandler(svc.Provisioner, svc.RosterTimeout),
		member:      tenancy.NewProvisionMemberHandler(svc.Store, svc.Provisioner),
		rename:      tenancy.NewRenameTenantHandler(svc.Tenants, svc.RosterTimeout),
		rotate:      tenancy.NewRotateSecretHandler(svc.Tenants, svc.Provisioner),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = tenancy.NopLogger()
	}
	return c
}

// OwnerAuth builds the bearer token middleware. Only tokens whose tenant
// equals the :tenant route parameter pass.
func (c *Controller) OwnerAuth(cfg jwtware.Config) router.MiddlewareFunc {
	cfg.ErrorHandler = c.authErrorHandler
	cfg.ValidationListeners = append(cfg.ValidationListeners, RequireTenantMatch)
	return jwtware.New(cfg)
}

// RequireTenantMatch rejects tokens issued for a different tenant
func RequireTenantMatch(ctx router.Context, claims *jwtware.OwnerClaims) error {
	tenantID := ctx.Param(TenantParam)
	if tenantID == "" || claims.Tenant() != tenantID {
		clone := ErrTenantMismatch.Clone()
		return clone.WithMetadata(map[string]any{
			"tenant_id": tenantID,
			"subject":   claims.Tenant(),
		})
	}
	return nil
}

// RegisterRoutes mounts the controller on app behind auth
func RegisterRoutes[T any](app router.Router[T], controller *Controller, auth router.MiddlewareFunc) {
	app.Post(controller.Routes.ProvisionRoster, controller.ProvisionRoster, auth).
		SetName("tenancy.roster.provision")

	app.Post(controller.Routes.ProvisionMember, controller.ProvisionMember, auth).
		SetName("tenancy.member.provision")

	app.Post(controller.Routes.Rename, controller.Rename, auth).
		SetName("tenancy.tenant.rename")

	app.Post(controller.Routes.RotateSecret, controller.RotateSecret, auth).
		SetName("tenancy.secret.rotate")

	app.Get(controller.Routes.StaleMembers, controller.StaleMembers, auth).
		SetName("tenancy.members.stale")
}

// ProvisionRoster provisions every active member. Partial failures are
// reported in the body with a 200 status.
func (c *Controller) ProvisionRoster(ctx router.Context) error {
	var report *tenancy.RosterReport
	msg := tenancy.ProvisionRosterMessage{
		TenantID: ctx.Param(TenantParam),
		OnResponse: func(r *tenancy.RosterReport) {
			report = r
		},
	}

	if err := c.roster.Execute(ctx.Context(), msg); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if report.HasFailures() {
		c.logger.Warn("roster provisioned with failures",
			"tenant_id", msg.TenantID,
			"failures", len(report.Failures),
		)
	}
	return ctx.JSON(router.StatusOK, report)
}

// ProvisionMember provisions a single member
func (c *Controller) ProvisionMember(ctx router.Context) error {
	var member *tenancy.MemberRecord
	msg := tenancy.ProvisionMemberMessage{
		TenantID: ctx.Param(TenantParam),
		MemberID: ctx.Param("member"),
		OnResponse: func(m *tenancy.MemberRecord) {
			member = m
		},
	}

	if err := c.member.Execute(ctx.Context(), msg); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, member)
}

// RenamePayload is the body of a rename call
type RenamePayload struct {
	Slug        string `json:"slug" form:"slug"`
	DisplayName string `json:"display_name,omitempty" form:"display_name"`
	Reprovision bool   `json:"reprovision" form:"reprovision"`
}

// Validate will validate the payload
func (p RenamePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Slug, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.DisplayName, validation.Length(0, 200)),
	)
}

// Rename changes the tenant slug
func (c *Controller) Rename(ctx router.Context) error {
	payload := new(RenamePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, tenancy.NewInvalidInput(err))
	}
	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, tenancy.NewInvalidInput(err))
	}

	var report *tenancy.RenameReport
	msg := tenancy.RenameTenantMessage{
		TenantID:    ctx.Param(TenantParam),
		Slug:        payload.Slug,
		DisplayName: payload.DisplayName,
		Reprovision: payload.Reprovision,
		OnResponse: func(r *tenancy.RenameReport) {
			report = r
		},
	}

	if err := c.rename.Execute(ctx.Context(), msg); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, report)
}

// RotateSecretPayload is the body of a secret rotation
type RotateSecretPayload struct {
	Secret string `json:"secret" form:"secret"`
}

// Validate will validate the payload
func (p RotateSecretPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Secret, validation.Required, validation.Length(tenancy.MinSharedSecretLength, 200)),
	)
}

// RotateSecretResponse reports the new secret version and the members that
// still log in with the previous secret.
type RotateSecretResponse struct {
	Tenant *tenancy.TenantRecord   `json:"tenant"`
	Stale  []*tenancy.MemberRecord `json:"stale"`
}

// RotateSecret replaces the tenant shared secret
func (c *Controller) RotateSecret(ctx router.Context) error {
	payload := new(RotateSecretPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, tenancy.NewInvalidInput(err))
	}
	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, tenancy.NewInvalidInput(err))
	}

	res := &RotateSecretResponse{}
	msg := tenancy.RotateSecretMessage{
		TenantID: ctx.Param(TenantParam),
		Secret:   payload.Secret,
		OnResponse: func(record *tenancy.TenantRecord, stale []*tenancy.MemberRecord) {
			res.Tenant = record
			res.Stale = stale
		},
	}

	if err := c.rotate.Execute(ctx.Context(), msg); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, res)
}

// StaleMembers lists members provisioned under a previous secret
func (c *Controller) StaleMembers(ctx router.Context) error {
	stale, err := c.provisioner.StaleMembers(ctx.Context(), ctx.Param(TenantParam))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	if stale == nil {
		stale = []*tenancy.MemberRecord{}
	}
	return ctx.JSON(router.StatusOK, stale)
}
