package tenancy

import (
	"context"
	"time"
)

// ActivityEventType enumerates audit categories emitted by this package
type ActivityEventType string

const (
	ActivityEventSlugRegistered    ActivityEventType = "tenancy.slug.registered"
	ActivityEventSlugReleased      ActivityEventType = "tenancy.slug.released"
	ActivityEventMemberProvisioned ActivityEventType = "tenancy.member.provisioned"
	ActivityEventProvisionFailed   ActivityEventType = "tenancy.member.provision_failed"
	ActivityEventMemberRemoved     ActivityEventType = "tenancy.member.removed"
	ActivityEventTenantRenamed     ActivityEventType = "tenancy.tenant.renamed"
	ActivityEventSecretRotated     ActivityEventType = "tenancy.secret.rotated"
	ActivityEventPointerBound      ActivityEventType = "tenancy.pointer.bound"
	ActivityEventPointerReleased   ActivityEventType = "tenancy.pointer.released"
	ActivityEventForcedSignOut     ActivityEventType = "tenancy.session.forced_signout"
	ActivityEventLoginSuccess      ActivityEventType = "tenancy.login.success"
	ActivityEventLoginFailure      ActivityEventType = "tenancy.login.failure"
)

// ActivityEvent captures audit friendly information about an action
type ActivityEvent struct {
	EventType   ActivityEventType
	TenantID    string
	MemberID    string
	PrincipalID string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing or telemetry
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity stamps the event and logs sink failures without failing the caller
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
