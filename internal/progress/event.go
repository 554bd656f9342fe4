package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageBatchDone   Stage = "BATCH_DONE"
	StageThreadError Stage = "THREAD_ERROR"
	StageRunDone     Stage = "RUN_DONE"
)

// Run outcomes carried by StageRunDone events.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFatal   = "fatal"
)

// Event captures a single milestone of a scrape run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Thread scopes batch and error events to one thread.
	Thread int64
	// Posts is the number of posts applied by a batch.
	Posts int64
	// Done counts batches reconciled so far in the run.
	Done int
	// Total is the number of threads planned for the run.
	Total int
	// Estimated is the approximate number of posts the plan will fetch.
	Estimated int
	// Errors is the final recoverable error count of the run.
	Errors int64
	// Outcome is set on StageRunDone (success, partial, fatal).
	Outcome string
	// Dur captures the run duration on completion.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// sheddable reports whether events of this stage may be dropped under
// backpressure. Only per-batch ticks qualify; a later tick supersedes them.
func (s Stage) sheddable() bool {
	return s == StageBatchDone
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageBatchDone:
		if e.Total <= 0 {
			return errors.New("batch done requires total")
		}
	case StageThreadError:
		if e.Note == "" {
			return errors.New("thread error requires note")
		}
	case StageRunDone:
		switch e.Outcome {
		case OutcomeSuccess, OutcomePartial, OutcomeFatal:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Outcome derives the run outcome from its error state.
func Outcome(errCount int64, fatal bool) string {
	switch {
	case fatal:
		return OutcomeFatal
	case errCount > 0:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}
