package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a milestone in a fetch run.
type Stage string

const (
	// StageFetchStart opens a run for one link.
	StageFetchStart Stage = "FETCH_START"
	// StageQueryDone reports one Search Analytics query, per country or unfiltered.
	StageQueryDone Stage = "QUERY_DONE"
	// StageFetchDone closes a run that reached a terminal link status.
	StageFetchDone Stage = "FETCH_DONE"
	// StageFetchError closes a run that marked the link as errored.
	StageFetchError Stage = "FETCH_ERROR"
)

// Query outcomes carried on QUERY_DONE events.
const (
	QueryOK     = "ok"
	QueryFailed = "failed"
)

// Event is one fetch milestone.
type Event struct {
	RunID  [16]byte
	TS     time.Time
	Stage  Stage
	LinkID string
	Site   string
	// Country is the ISO alpha-3 code a query was filtered by, empty for
	// unfiltered queries.
	Country string
	// Rows counts raw rows returned by a query, or rows written for FETCH_DONE.
	Rows int64
	// Dates counts distinct dates after the merge.
	Dates  int64
	Status string
	Dur    time.Duration
	Note   string
}

// Validate rejects events the sinks cannot attribute to a run.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageFetchStart:
		if e.LinkID == "" {
			return errors.New("fetch start requires link id")
		}
	case StageQueryDone:
		if e.Status != QueryOK && e.Status != QueryFailed {
			return fmt.Errorf("query done requires status ok or failed, got %q", e.Status)
		}
	case StageFetchDone, StageFetchError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Rows < 0 || e.Dates < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a run.
func (e Event) Terminal() bool {
	return e.Stage == StageFetchDone || e.Stage == StageFetchError
}

// RunUUID returns the run id as a uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID allocates a random run id.
func NewRunID() [16]byte {
	return uuid.New()
}
