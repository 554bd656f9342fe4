package progress

import "context"

// Sink consumes batches of run events in emission order. A batch may omit
// BatchDone events the hub shed under backpressure; RunStart, ThreadError and
// RunDone always arrive. Consume must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes one event. The runner, extractors and reconciler emit
// through it without knowing which sinks are attached.
type Emitter interface {
	Emit(evt Event)
}
