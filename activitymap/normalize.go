package activitymap

import (
	"strings"
	"time"

	"github.com/goliatone/go-tenancy"
)

const (
	// MetadataKeyTenantID stores the tenant the event belongs to.
	MetadataKeyTenantID = "tenant_id"
	// MetadataKeyMemberID stores the roster member, when there is one.
	MetadataKeyMemberID = "member_id"
)

const (
	defaultChannel   = "tenancy"
	defaultActorID   = "system"
	objectTypeTenant = "tenant"
	objectTypeMember = "member"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel        string
	actorFallback  string
	objectResolver func(tenancy.ActivityEvent) (string, string)
}

// Normalize converts a tenancy.ActivityEvent into a generic normalized shape.
// Events about a roster member target the member, everything else targets
// the tenant.
func Normalize(event tenancy.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.PrincipalID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event, options.objectResolver)
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectResolver overrides the object type and id extraction.
func WithObjectResolver(resolver func(tenancy.ActivityEvent) (objectType, objectID string)) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no principal.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
	}
}

func resolveObject(event tenancy.ActivityEvent, resolver func(tenancy.ActivityEvent) (string, string)) (string, string) {
	if resolver != nil {
		objectType, objectID := resolver(event)
		return strings.TrimSpace(objectType), strings.TrimSpace(objectID)
	}
	if memberID := strings.TrimSpace(event.MemberID); memberID != "" {
		return objectTypeMember, memberID
	}
	return objectTypeTenant, strings.TrimSpace(event.TenantID)
}

func normalizeMetadata(event tenancy.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if tenantID := strings.TrimSpace(event.TenantID); tenantID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyTenantID]; !exists {
			metadata[MetadataKeyTenantID] = tenantID
		}
	}

	if memberID := strings.TrimSpace(event.MemberID); memberID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyMemberID] = memberID
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
