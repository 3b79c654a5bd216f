package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gsc-tracker/internal/progress"
	"github.com/JakeFAU/gsc-tracker/internal/store"
)

func TestStoreSinkFoldsQueries(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	run := progress.NewRunID()
	now := time.Now()

	batch := []progress.Event{
		{RunID: run, TS: now, Stage: progress.StageFetchStart, LinkID: "l1", Site: "sc-domain:example.com"},
		{RunID: run, TS: now, Stage: progress.StageQueryDone, Country: "usa", Status: progress.QueryOK, Rows: 30},
		{RunID: run, TS: now, Stage: progress.StageQueryDone, Country: "gbr", Status: progress.QueryFailed},
		{RunID: run, TS: now, Stage: progress.StageQueryDone, Country: "fra", Status: progress.QueryOK, Rows: 12},
		{RunID: run, TS: now.Add(time.Second), Stage: progress.StageFetchDone, Status: "complete", Dates: 30},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"start", "queries", "complete"}, repo.calls)
	require.Equal(t, store.QueryDelta{Queries: 3, Failed: 1, Rows: 42}, repo.deltas[uuid.UUID(run)])
	require.Equal(t, store.RunComplete, repo.statuses[uuid.UUID(run)])
	require.EqualValues(t, 30, repo.dates[uuid.UUID(run)])
}

func TestStoreSinkErrorAndSkipped(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	failed, skipped := progress.NewRunID(), progress.NewRunID()
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: failed, TS: now, Stage: progress.StageFetchError, Status: "error", Note: "missing credentials"},
		{RunID: skipped, TS: now, Stage: progress.StageFetchDone, Status: "skipped"},
	}))
	require.Equal(t, store.RunError, repo.statuses[uuid.UUID(failed)])
	require.Equal(t, "missing credentials", repo.notes[uuid.UUID(failed)])
	require.Equal(t, store.RunSkipped, repo.statuses[uuid.UUID(skipped)])
}

func TestStoreSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.NewRunID(), TS: time.Now(), Stage: progress.StageFetchStart, LinkID: "l1"},
	})
	require.Error(t, err)
}

func TestStoreSinkWithoutRepo(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), []progress.Event{{}}))
}

type fakeRunRepo struct {
	fail     bool
	calls    []string
	deltas   map[uuid.UUID]store.QueryDelta
	statuses map[uuid.UUID]store.RunStatus
	dates    map[uuid.UUID]int64
	notes    map[uuid.UUID]string
}

func (f *fakeRunRepo) StartRun(context.Context, uuid.UUID, string, string, time.Time) error {
	if f.fail {
		return errors.New("start")
	}
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeRunRepo) AddQueries(_ context.Context, runID uuid.UUID, delta store.QueryDelta) error {
	if f.deltas == nil {
		f.deltas = map[uuid.UUID]store.QueryDelta{}
	}
	f.calls = append(f.calls, "queries")
	f.deltas[runID] = delta
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	dates int64,
	errMsg *string,
) error {
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]store.RunStatus{}
		f.dates = map[uuid.UUID]int64{}
		f.notes = map[uuid.UUID]string{}
	}
	f.calls = append(f.calls, "complete")
	f.statuses[runID] = status
	f.dates[runID] = dates
	if errMsg != nil {
		f.notes[runID] = *errMsg
	}
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.FetchRun, error) {
	return store.FetchRun{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, string, int, int) ([]store.FetchRun, error) {
	return nil, nil
}
