package store

import (
	"context"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
)

// Hooks observes atomic units; the engine logs through them.
type Hooks interface {
	ObserveOperation(name, status string, attempts int, dur time.Duration)
	IncConflict(name string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, int, time.Duration) {}
func (noopHooks) IncConflict(string)                                 {}

type logHooks struct {
	log *logger.Logger
}

// NewLogHooks reports conflicts and slow or failed units to log.
func NewLogHooks(log *logger.Logger) Hooks {
	if log == nil {
		return noopHooks{}
	}
	return &logHooks{log: log.With("component", "store")}
}

func (h *logHooks) ObserveOperation(name, status string, attempts int, dur time.Duration) {
	if status == "success" && attempts == 1 {
		h.log.Debug("tx committed", "op", name, "duration_ms", dur.Milliseconds())
		return
	}
	h.log.Info("tx finished", "op", name, "status", status, "attempts", attempts, "duration_ms", dur.Milliseconds())
}

func (h *logHooks) IncConflict(name string) {
	h.log.Warn("tx conflict, retrying", "op", name)
}

// runWithRetry re-runs attempt while it fails with a conflict, up to
// policy.MaxAttempts. The last conflict is returned when attempts run out.
func runWithRetry(ctx context.Context, op string, policy RetryPolicy, hooks Hooks, attempt func() error) error {
	policy = policy.withDefaults()
	if hooks == nil {
		hooks = noopHooks{}
	}
	start := time.Now()
	var err error
	n := 0
	for n < policy.MaxAttempts {
		n++
		err = attempt()
		if err == nil || !retryable(err) {
			break
		}
		hooks.IncConflict(op)
		if n == policy.MaxAttempts {
			break
		}
		if policy.Backoff > 0 {
			t := time.NewTimer(policy.Backoff * time.Duration(n))
			select {
			case <-ctx.Done():
				t.Stop()
				hooks.ObserveOperation(op, "canceled", n, time.Since(start))
				return exam.Wrap(exam.CodeInternal, op, ctx.Err())
			case <-t.C:
			}
		}
	}
	hooks.ObserveOperation(op, status(err), n, time.Since(start))
	return err
}

func status(err error) string {
	if err == nil {
		return "success"
	}
	if code := strings.TrimSpace(string(exam.CodeOf(err))); code != "" {
		return code
	}
	return "failure"
}
