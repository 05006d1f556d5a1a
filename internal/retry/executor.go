package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names a retryable unit of work.
type Operation string

const (
	OperationValidatePermissions Operation = "validate_permissions"
	OperationLoadPost            Operation = "load_post"
	OperationListAssociations    Operation = "list_associations"
	OperationInsertAssociations  Operation = "insert_associations"
	OperationDeleteAssociations  Operation = "delete_associations"
	OperationRecordIntent        Operation = "record_intent"
	OperationReconcileIntent     Operation = "reconcile_intent"
)

// Key identifies a retry counter.
type Key struct {
	Operation Operation
	ActorID   string
}

// ExhaustedError is returned once the executor gives up on an operation.
type ExhaustedError struct {
	Operation Operation
	ActorID   string
	Attempts  int
	Reason    string
	Last      *Error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", e.Operation, e.Attempts, e.Reason, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// SleepFunc waits for the given delay or until ctx is done.
type SleepFunc func(ctx context.Context, delay time.Duration) error

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Policy Policy
	Sleep  SleepFunc
	Logger *zap.Logger
}

// Executor runs fallible operations under the retry policy. Each Execute call owns
// its retry budget; the keyed counters only report in-flight failures per operation
// and actor.
type Executor struct {
	policy   Policy
	sleep    SleepFunc
	logger   *zap.Logger
	mu       sync.Mutex
	counters map[Key]int
}

// NewExecutor constructs an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy:   cfg.Policy,
		sleep:    sleep,
		logger:   logger,
		counters: make(map[Key]int),
	}
}

// Execute calls fn until it succeeds or the strategy for its classified failure says stop.
// The returned error is always an *ExhaustedError wrapping the last classified failure.
func (e *Executor) Execute(ctx context.Context, operation Operation, actorID string, fn func(context.Context) error) error {
	key := Key{Operation: operation, ActorID: actorID}
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			e.reset(key)
			return nil
		}

		classified := Tag(string(operation), err)
		attempt++
		e.increment(key)
		strategy := e.policy.RecoveryStrategy(classified.Kind, attempt)
		fields := []zap.Field{
			zap.String("operation", string(operation)),
			zap.String("actor_id", actorID),
			zap.String("kind", string(classified.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(classified),
		}

		if !strategy.ShouldRetry {
			e.reset(key)
			reason := "retries exhausted"
			if strategy.UserActionRequired {
				reason = "user action required"
				e.logger.Warn("operation not retryable", fields...)
			} else {
				e.logger.Error("operation retries exhausted", fields...)
			}
			return &ExhaustedError{Operation: operation, ActorID: actorID, Attempts: attempt, Reason: reason, Last: classified}
		}

		e.logger.Info("retrying operation", append(fields, zap.Duration("delay", strategy.Delay))...)
		if sleepErr := e.sleep(ctx, strategy.Delay); sleepErr != nil {
			e.reset(key)
			return &ExhaustedError{Operation: operation, ActorID: actorID, Attempts: attempt, Reason: sleepErr.Error(), Last: classified}
		}
	}
}

// Attempts reports the failures currently counted for key.
func (e *Executor) Attempts(key Key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters[key]
}

func (e *Executor) increment(key Key) {
	e.mu.Lock()
	e.counters[key]++
	e.mu.Unlock()
}

func (e *Executor) reset(key Key) {
	e.mu.Lock()
	delete(e.counters, key)
	e.mu.Unlock()
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
