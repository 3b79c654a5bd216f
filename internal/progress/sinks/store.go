package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/progress"
	"github.com/JakeFAU/gsc-tracker/internal/store"
)

// StoreSink records fetch runs through a store.FetchRunRepository. Query
// events are folded per run so a batch costs one counter update per run.
type StoreSink struct {
	repo   store.FetchRunRepository
	logger *zap.Logger
}

// NewStoreSink wraps repo.
func NewStoreSink(repo store.FetchRunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order: starts, folded query counters, then
// completions, so a run started and finished in one batch lands complete.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*store.QueryDelta)
	var order []uuid.UUID
	var terminal []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageFetchStart:
			if err := s.repo.StartRun(ctx, runID, evt.LinkID, evt.Site, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageQueryDone:
			d, ok := deltas[runID]
			if !ok {
				d = &store.QueryDelta{}
				deltas[runID] = d
				order = append(order, runID)
			}
			d.Queries++
			if evt.Status == progress.QueryFailed {
				d.Failed++
			}
			d.Rows += evt.Rows
		case progress.StageFetchDone, progress.StageFetchError:
			terminal = append(terminal, evt)
		}
	}

	for _, runID := range order {
		if err := s.repo.AddQueries(ctx, runID, *deltas[runID]); err != nil {
			return fmt.Errorf("add queries: %w", err)
		}
	}
	for _, evt := range terminal {
		status := runStatus(evt)
		var note *string
		if evt.Note != "" {
			n := evt.Note
			note = &n
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, evt.Dates, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func runStatus(evt progress.Event) store.RunStatus {
	if evt.Stage == progress.StageFetchError {
		return store.RunError
	}
	if evt.Status == string(store.RunSkipped) {
		return store.RunSkipped
	}
	return store.RunComplete
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
