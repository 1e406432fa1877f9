package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-tenancy"
)

// TokenSource returns the owner bearer token for a call
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Client calls the provisioning RPC on behalf of an owner
type Client struct {
	baseURL string
	routes  Routes
	token   TokenSource
	http    *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClientRoutes must match the routes the server was mounted with
func WithClientRoutes(r Routes) ClientOption {
	return func(c *Client) {
		c.routes = r
	}
}

// NewClient creates a Client for the server at baseURL
func NewClient(baseURL string, token TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		routes:  DefaultRoutes(),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ProvisionRoster provisions every active member of tenantID
func (c *Client) ProvisionRoster(ctx context.Context, tenantID string) (*tenancy.RosterReport, error) {
	report := &tenancy.RosterReport{}
	path := c.path(c.routes.ProvisionRoster, tenantID, "")
	if err := c.do(ctx, http.MethodPost, path, nil, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ProvisionMember provisions one member
func (c *Client) ProvisionMember(ctx context.Context, tenantID, memberID string) (*tenancy.MemberRecord, error) {
	member := &tenancy.MemberRecord{}
	path := c.path(c.routes.ProvisionMember, tenantID, memberID)
	if err := c.do(ctx, http.MethodPost, path, nil, member); err != nil {
		return nil, err
	}
	return member, nil
}

// Rename changes the tenant slug
func (c *Client) Rename(ctx context.Context, tenantID string, payload RenamePayload) (*tenancy.RenameReport, error) {
	report := &tenancy.RenameReport{}
	path := c.path(c.routes.Rename, tenantID, "")
	if err := c.do(ctx, http.MethodPost, path, payload, report); err != nil {
		return nil, err
	}
	return report, nil
}

// RotateSecret replaces the shared secret
func (c *Client) RotateSecret(ctx context.Context, tenantID, secret string) (*RotateSecretResponse, error) {
	res := &RotateSecretResponse{}
	path := c.path(c.routes.RotateSecret, tenantID, "")
	if err := c.do(ctx, http.MethodPost, path, RotateSecretPayload{Secret: secret}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// StaleMembers lists members still on a previous secret
func (c *Client) StaleMembers(ctx context.Context, tenantID string) ([]*tenancy.MemberRecord, error) {
	var stale []*tenancy.MemberRecord
	path := c.path(c.routes.StaleMembers, tenantID, "")
	if err := c.do(ctx, http.MethodGet, path, nil, &stale); err != nil {
		return nil, err
	}
	return stale, nil
}

func (c *Client) path(route, tenantID, memberID string) string {
	route = strings.ReplaceAll(route, ":"+TenantParam, url.PathEscape(tenantID))
	route = strings.ReplaceAll(route, ":member", url.PathEscape(memberID))
	return c.baseURL + route
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryAuth, "failed to obtain owner token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return tenancy.NewProviderUnavailable("provisioning_rpc", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return tenancy.NewProviderUnavailable("provisioning_rpc", err)
	}

	if res.StatusCode >= 400 {
		return decodeError(res.StatusCode, payload)
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode response")
	}
	return nil
}

// decodeError rebuilds the server error so tenancy.IsXxx helpers keep working
func decodeError(status int, payload []byte) error {
	body := ErrorBody{}
	if err := json.Unmarshal(payload, &body); err != nil || body.Error.Message == "" {
		if status >= 500 {
			return tenancy.NewProviderUnavailable("provisioning_rpc", fmt.Errorf("unexpected status %d", status))
		}
		return goerrors.New(fmt.Sprintf("unexpected status %d", status), goerrors.CategoryInternal).
			WithCode(status)
	}

	richErr := goerrors.New(body.Error.Message, goerrors.Category(body.Error.Category)).
		WithTextCode(body.Error.TextCode).
		WithCode(status)
	if len(body.Error.Metadata) > 0 {
		richErr.WithMetadata(body.Error.Metadata)
	}

	if body.Error.TextCode == tenancy.TextCodeProvisioningFailed {
		perr := &tenancy.ProvisioningError{Cause: richErr}
		if id, ok := body.Error.Metadata["member_id"].(string); ok {
			perr.MemberID = id
		}
		if name, ok := body.Error.Metadata["display_name"].(string); ok {
			perr.DisplayName = name
		}
		return perr
	}
	return richErr
}
