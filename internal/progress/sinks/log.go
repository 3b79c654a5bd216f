package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink that logs through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch. Query events go out at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("link_id", evt.LinkID),
		}
		if evt.Site != "" {
			fields = append(fields, zap.String("site", evt.Site))
		}
		if evt.Country != "" {
			fields = append(fields, zap.String("country", evt.Country))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Rows > 0 {
			fields = append(fields, zap.Int64("rows", evt.Rows))
		}
		if evt.Dates > 0 {
			fields = append(fields, zap.Int64("dates", evt.Dates))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageQueryDone:
			s.logger.Debug("fetch progress", fields...)
		case progress.StageFetchError:
			s.logger.Warn("fetch progress", fields...)
		default:
			s.logger.Info("fetch progress", fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
