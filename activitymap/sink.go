package activitymap

import (
	"context"

	"go.uber.org/zap"

	"github.com/goliatone/go-tenancy"
)

// LogSink writes every normalized activity record to a zap logger
type LogSink struct {
	logger *zap.Logger
	opts   []Option
}

// NewLogSink returns a tenancy.ActivitySink logging to logger
func NewLogSink(logger *zap.Logger, opts ...Option) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, opts: opts}
}

func (s *LogSink) Record(_ context.Context, event tenancy.ActivityEvent) error {
	out := Normalize(event, s.opts...)
	s.logger.Info("activity",
		zap.String("verb", out.Verb),
		zap.String("actor_id", out.ActorID),
		zap.String("object_type", out.ObjectType),
		zap.String("object_id", out.ObjectID),
		zap.String("channel", out.Channel),
		zap.Any("metadata", out.Metadata),
		zap.Time("occurred_at", out.OccurredAt),
	)
	return nil
}

var _ tenancy.ActivitySink = (*LogSink)(nil)
