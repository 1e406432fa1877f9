package tenancy

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Registry maps tenant slugs to tenant ids. It is the one index used both by
// owner configuration saves and by staff login resolution.
type Registry struct {
	index    SlugIndex
	cache    SlugCache
	logger   Logger
	metrics  Metrics
	activity ActivitySink
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryCache puts a read through cache in front of ResolveTenantID
func WithRegistryCache(c SlugCache) RegistryOption {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(l Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithRegistryMetrics sets the metrics sink
func WithRegistryMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithRegistryActivitySink sets the activity sink
func WithRegistryActivitySink(s ActivitySink) RegistryOption {
	return func(r *Registry) {
		r.activity = s
	}
}

// NewRegistry creates a Registry backed by index
func NewRegistry(index SlugIndex, opts ...RegistryOption) *Registry {
	r := &Registry{index: index}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = normalizeLogger(r.logger)
	r.metrics = normalizeMetrics(r.metrics)
	r.activity = normalizeActivitySink(r.activity)
	return r
}

// RegisterSlug claims slug for tenantID. The slug is normalized first. It
// fails with a slug conflict when another tenant owns it. Registering the
// same pair again is a no op.
func (r *Registry) RegisterSlug(ctx context.Context, tenantID, slug string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	normalized := Slugify(slug)
	if tenantID == "" || normalized == "" {
		return "", NewInvalidInput(goerrors.New("tenant id and slug are required", goerrors.CategoryValidation))
	}

	owner, err := r.index.ClaimSlug(ctx, tenantID, normalized)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to claim tenant slug")
	}

	if owner != tenantID {
		r.logger.Warn("slug claimed by another tenant", "slug", normalized, "tenant_id", tenantID)
		return "", NewSlugConflict(normalized, owner)
	}

	if r.cache != nil {
		r.cache.Delete(normalized)
	}

	r.logger.Debug("slug registered", "slug", normalized, "tenant_id", tenantID)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventSlugRegistered,
		TenantID:  tenantID,
		Metadata:  map[string]any{"slug": normalized},
	})
	return normalized, nil
}

// ResolveTenantID returns the tenant owning slug
func (r *Registry) ResolveTenantID(ctx context.Context, slug string) (string, error) {
	normalized := Slugify(slug)
	if normalized == "" {
		r.metrics.ObserveSlugResolution(OutcomeNotFound)
		return "", NewTenantNotFound(slug)
	}

	if r.cache != nil {
		if tenantID, ok := r.cache.Get(normalized); ok && tenantID != "" {
			r.metrics.ObserveSlugResolution(OutcomeCacheHit)
			return tenantID, nil
		}
	}

	tenantID, err := r.index.ReadBySlug(ctx, normalized)
	if err != nil {
		if IsRecordNotFound(err) {
			r.metrics.ObserveSlugResolution(OutcomeNotFound)
			return "", NewTenantNotFound(normalized)
		}
		r.metrics.ObserveSlugResolution(OutcomeFailure)
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve tenant slug")
	}
	if tenantID == "" {
		r.metrics.ObserveSlugResolution(OutcomeNotFound)
		return "", NewTenantNotFound(normalized)
	}

	if r.cache != nil {
		r.cache.Set(normalized, tenantID)
	}
	r.metrics.ObserveSlugResolution(OutcomeSuccess)
	return tenantID, nil
}

// ReleaseSlug drops a mapping owned by tenantID. Slugs owned by other
// tenants are left untouched.
func (r *Registry) ReleaseSlug(ctx context.Context, tenantID, slug string) error {
	normalized := Slugify(slug)
	if normalized == "" {
		return nil
	}

	if err := r.index.ReleaseSlug(ctx, tenantID, normalized); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to release tenant slug")
	}

	if r.cache != nil {
		r.cache.Delete(normalized)
	}

	r.logger.Debug("slug released", "slug", normalized, "tenant_id", tenantID)
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventSlugReleased,
		TenantID:  tenantID,
		Metadata:  map[string]any{"slug": normalized},
	})
	return nil
}

// ResolveUsername finds the tenant behind a typed staff username by trying
// each candidate slug, longest first.
func (r *Registry) ResolveUsername(ctx context.Context, username string) (tenantID, slug string, err error) {
	username = strings.ToLower(strings.TrimSpace(username))
	for _, candidate := range CandidateSlugs(username) {
		tenantID, err = r.ResolveTenantID(ctx, candidate)
		if err == nil {
			return tenantID, candidate, nil
		}
		if !IsTenantNotFound(err) {
			return "", "", err
		}
	}
	return "", "", NewTenantNotFound(username)
}
