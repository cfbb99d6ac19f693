package dispatch

import (
	"context"
	"log/slog"
)

// BestEffort is the outcome of a fire-and-log side effect, such as deactivating a dead
// token or recording a job failure. It never decides a job's outcome; callers log it
// and move on.
type BestEffort struct {
	Op  string
	Err error
}

// Attempt runs fn and captures its error as a BestEffort.
func Attempt(op string, fn func() error) BestEffort {
	return BestEffort{Op: op, Err: fn()}
}

func (b BestEffort) OK() bool { return b.Err == nil }

// Log reports a failed side effect at warn level. Successful ones are silent.
func (b BestEffort) Log(ctx context.Context, logger *slog.Logger, attrs ...any) {
	if b.Err == nil {
		return
	}
	args := append([]any{"op", b.Op, "err", b.Err}, attrs...)
	logger.WarnContext(ctx, "Best-effort operation failed", args...)
}
