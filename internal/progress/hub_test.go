package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubShedsBatchDoneWithoutConsumers asserts BatchDone ticks never block callers.
func TestHubShedsBatchDoneWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageBatchDone))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.dropped.Load())
}

// TestHubDeliversRunDoneUnderBackpressure floods a slow sink with batch ticks;
// the error and summary events must still arrive, after every earlier event.
func TestHubDeliversRunDoneUnderBackpressure(t *testing.T) {
	t.Parallel()

	sink := &slowSink{delay: 5 * time.Millisecond}
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 4,
		MaxBatchWait:   time.Millisecond,
	}, sink)

	runID := UUIDToBytes(uuid.New())
	hub.Emit(Event{RunID: runID, TS: time.Now(), Stage: StageRunStart, Total: 500})
	for i := 1; i <= 500; i++ {
		hub.Emit(Event{RunID: runID, TS: time.Now(), Stage: StageBatchDone, Done: i, Total: 500})
	}
	hub.Emit(Event{RunID: runID, TS: time.Now(), Stage: StageThreadError, Thread: 7, Note: "could not fetch thread 7"})
	hub.Emit(Event{RunID: runID, TS: time.Now(), Stage: StageRunDone, Outcome: OutcomePartial, Errors: 1})
	require.NoError(t, hub.Close(context.Background()))

	events := sink.Events()
	counts := map[Stage]int{}
	for _, evt := range events {
		counts[evt.Stage]++
	}
	require.Equal(t, 1, counts[StageRunStart])
	require.Equal(t, 1, counts[StageThreadError])
	require.Equal(t, 1, counts[StageRunDone])
	require.Less(t, counts[StageBatchDone], 500)
	require.Equal(t, StageRunStart, events[0].Stage)
	require.Equal(t, StageRunDone, events[len(events)-1].Stage)
}

// TestHubEmitAfterCloseReturns ensures late events never hang the caller.
func TestHubEmitAfterCloseReturns(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 1}, sink)
	require.NoError(t, hub.Close(context.Background()))

	done := make(chan struct{})
	go func() {
		hub.Emit(sampleEvent(StageRunStart))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked after Close")
	}
	require.Empty(t, sink.Batches())
}

type slowSink struct {
	delay  time.Duration
	mu     sync.Mutex
	events []Event
}

func (s *slowSink) Consume(_ context.Context, batch []Event) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *slowSink) Close(context.Context) error {
	return nil
}

func (s *slowSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: stage,
		Total: 1,
	}
}

// TestEventValidate covers the per-stage requirements.
func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageBatchDone)
	require.NoError(t, valid.Validate())

	missingRun := valid
	missingRun.RunID = [16]byte{}
	require.Error(t, missingRun.Validate())

	noTotal := valid
	noTotal.Total = 0
	require.Error(t, noTotal.Validate())

	threadErr := sampleEvent(StageThreadError)
	require.Error(t, threadErr.Validate())
	threadErr.Note = "can't access thread"
	require.NoError(t, threadErr.Validate())

	done := sampleEvent(StageRunDone)
	require.Error(t, done.Validate())
	done.Outcome = Outcome(2, false)
	require.NoError(t, done.Validate())
	require.Equal(t, OutcomePartial, done.Outcome)

	require.Error(t, sampleEvent("BOGUS").Validate())
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeSuccess, Outcome(0, false))
	require.Equal(t, OutcomePartial, Outcome(3, false))
	require.Equal(t, OutcomeFatal, Outcome(0, true))
}
