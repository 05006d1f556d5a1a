package audit

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLogCapacity    = 1000
	defaultSampleCapacity = 500
	defaultSlowThreshold  = 2 * time.Second
)

// Record describes one attempted association operation.
type Record struct {
	Operation string
	PostID    string
	GroupIDs  []string
	ActorID   string
	Success   bool
	Err       error
	Metadata  map[string]any
}

// Entry is a Record as retained by the Recorder.
type Entry struct {
	ID        string
	Timestamp time.Time
	Operation string
	PostID    string
	GroupIDs  []string
	ActorID   string
	Success   bool
	ErrorKind retry.Kind
	Error     string
	Metadata  map[string]any
}

// Sample is a single timed operation.
type Sample struct {
	Operation string
	ActorID   string
	Success   bool
	Duration  time.Duration
	Timestamp time.Time
}

// Sink receives every entry after it is buffered. Failures are logged and dropped.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	LogCapacity    int
	SampleCapacity int
	SlowThreshold  time.Duration
	Clock          func() time.Time
	Sink           Sink
	Logger         *zap.Logger
}

// Recorder keeps bounded in-memory audit entries and performance samples.
type Recorder struct {
	mu            sync.Mutex
	entries       *ring[Entry]
	samples       *ring[Sample]
	slowThreshold time.Duration
	clock         func() time.Time
	sink          Sink
	logger        *zap.Logger
}

// NewRecorder constructs a Recorder, filling unset capacities and thresholds with defaults.
func NewRecorder(cfg RecorderConfig) *Recorder {
	logCapacity := cfg.LogCapacity
	if logCapacity <= 0 {
		logCapacity = defaultLogCapacity
	}
	sampleCapacity := cfg.SampleCapacity
	if sampleCapacity <= 0 {
		sampleCapacity = defaultSampleCapacity
	}
	slowThreshold := cfg.SlowThreshold
	if slowThreshold <= 0 {
		slowThreshold = defaultSlowThreshold
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		entries:       newRing[Entry](logCapacity),
		samples:       newRing[Sample](sampleCapacity),
		slowThreshold: slowThreshold,
		clock:         clock,
		sink:          cfg.Sink,
		logger:        logger,
	}
}

// LogOperation buffers the record, logs it and forwards it to the sink. It never fails.
func (r *Recorder) LogOperation(ctx context.Context, record Record) {
	if r == nil {
		return
	}
	entry := Entry{
		ID:        newEntryID(),
		Timestamp: r.clock().UTC(),
		Operation: record.Operation,
		PostID:    record.PostID,
		GroupIDs:  append([]string(nil), record.GroupIDs...),
		ActorID:   record.ActorID,
		Success:   record.Success,
		Metadata:  copyMetadata(record.Metadata),
	}
	if record.Err != nil {
		entry.ErrorKind = retry.Classify(record.Err)
		entry.Error = record.Err.Error()
	}

	r.mu.Lock()
	r.entries.push(entry)
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("post_id", entry.PostID),
		zap.Strings("group_ids", entry.GroupIDs),
		zap.String("actor_id", entry.ActorID),
		zap.Bool("success", entry.Success),
	}
	if entry.Success {
		r.logger.Info("association operation", fields...)
	} else {
		fields = append(fields, zap.String("error_kind", string(entry.ErrorKind)), zap.String("error", entry.Error))
		r.logger.Warn("association operation failed", fields...)
	}

	if r.sink != nil {
		if err := r.sink.Append(ctx, entry); err != nil {
			r.logger.Warn("audit sink append failed", zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}
}

// TrackPerformance runs fn and records how long it took.
func (r *Recorder) TrackPerformance(operation, actorID string, fn func() error) error {
	_, err := Track(r, operation, actorID, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Track is the value-returning form of TrackPerformance.
func Track[T any](r *Recorder, operation, actorID string, fn func() (T, error)) (T, error) {
	return TrackOutcome(r, operation, actorID, fn, nil)
}

// TrackOutcome is Track for operations that report failure in their value. The sample
// succeeds only when fn returns no error and succeeded, if set, accepts the value.
func TrackOutcome[T any](r *Recorder, operation, actorID string, fn func() (T, error), succeeded func(T) bool) (T, error) {
	if r == nil {
		return fn()
	}
	started := r.clock()
	value, err := fn()
	duration := r.clock().Sub(started)

	success := err == nil
	if success && succeeded != nil {
		success = succeeded(value)
	}
	sample := Sample{
		Operation: operation,
		ActorID:   actorID,
		Success:   success,
		Duration:  duration,
		Timestamp: started.UTC(),
	}
	r.mu.Lock()
	r.samples.push(sample)
	r.mu.Unlock()

	if duration > r.slowThreshold {
		r.logger.Warn("slow association operation",
			zap.String("operation", operation),
			zap.String("actor_id", actorID),
			zap.Duration("duration", duration),
			zap.Duration("threshold", r.slowThreshold))
	}
	return value, err
}

// Entries returns the buffered entries oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.snapshot()
}

// Samples returns the buffered performance samples oldest first.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples.snapshot()
}

func newEntryID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}

func copyMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}
	return out
}
