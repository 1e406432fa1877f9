package rpc

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/middleware/jwtware"
)

// ErrTenantMismatch the owner token was issued for another tenant
var ErrTenantMismatch = goerrors.New("token does not grant access to tenant", goerrors.CategoryAuthz).
	WithTextCode("TENANT_MISMATCH").
	WithCode(goerrors.CodeForbidden)

// ErrUnauthenticated the request carries no valid owner token
var ErrUnauthenticated = goerrors.New("missing or invalid owner token", goerrors.CategoryAuth).
	WithTextCode("UNAUTHENTICATED").
	WithCode(goerrors.CodeUnauthorized)

// ErrorBody is the JSON envelope of every failed call
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries a rich error over the wire
type ErrorPayload struct {
	Message  string         `json:"message"`
	TextCode string         `json:"text_code"`
	Category string         `json:"category"`
	Code     int            `json:"code"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// toRichError normalizes err so it can be rendered
func toRichError(err error) *goerrors.Error {
	var perr *tenancy.ProvisioningError
	if errors.As(err, &perr) {
		return goerrors.Wrap(err, goerrors.CategoryOperation, perr.Error()).
			WithTextCode(tenancy.TextCodeProvisioningFailed).
			WithCode(http.StatusBadGateway).
			WithMetadata(map[string]any{
				"member_id":    perr.MemberID,
				"display_name": perr.DisplayName,
			})
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr
	}

	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return ErrUnauthenticated.Clone()
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
		WithTextCode("INTERNAL").
		WithCode(goerrors.CodeInternal)
}

// statusFor returns the HTTP status used to render richErr
func statusFor(richErr *goerrors.Error) int {
	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}
	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders err as an ErrorBody
func (c *Controller) ErrorHandler(ctx router.Context, err error) error {
	richErr := toRichError(err)

	c.logger.Info(
		"provisioning rpc error",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	return ctx.JSON(statusFor(richErr), ErrorBody{
		Error: ErrorPayload{
			Message:  richErr.Message,
			TextCode: richErr.TextCode,
			Category: string(richErr.Category),
			Code:     statusFor(richErr),
			Metadata: richErr.Metadata,
		},
	})
}

// authErrorHandler renders token failures as 401
func (c *Controller) authErrorHandler(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return c.ErrorHandler(ctx, err)
	}
	clone := ErrUnauthenticated.Clone()
	clone.Source = err
	return c.ErrorHandler(ctx, clone.WithMetadata(map[string]any{"cause": err.Error()}))
}
