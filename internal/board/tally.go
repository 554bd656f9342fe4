package board

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Tally counts recoverable errors for a single run. Workers and the
// reconciler share one Tally owned by the run controller.
type Tally struct {
	count  atomic.Int64
	logger *zap.Logger
}

// NewTally builds a Tally that logs every reported error.
func NewTally(logger *zap.Logger) *Tally {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tally{logger: logger}
}

// Report logs msg with fields and increments the error count.
func (t *Tally) Report(msg string, fields ...zap.Field) {
	if t == nil {
		return
	}
	t.count.Add(1)
	t.logger.Warn(msg, fields...)
}

// Count returns the number of errors reported so far.
func (t *Tally) Count() int64 {
	if t == nil {
		return 0
	}
	return t.count.Load()
}
