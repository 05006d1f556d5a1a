package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// steppingClock advances by step on every call.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

type failingSink struct {
	calls int
}

func (s *failingSink) Append(context.Context, Entry) error {
	s.calls++
	return errors.New("disk full")
}

func TestRingEvictsOldestFirst(t *testing.T) {
	buffer := newRing[int](3)
	for value := 1; value <= 5; value++ {
		buffer.push(value)
	}
	got := buffer.snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %v", len(want), got)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if buffer.len() != 3 {
		t.Fatalf("expected length 3, got %d", buffer.len())
	}
}

func TestLogOperationIsBoundedAndClassifiesErrors(t *testing.T) {
	recorder := NewRecorder(RecorderConfig{LogCapacity: 2})
	ctx := context.Background()

	recorder.LogOperation(ctx, Record{Operation: "create_associations", PostID: "post-1", Success: true})
	recorder.LogOperation(ctx, Record{Operation: "update_associations", PostID: "post-1", Success: true})
	recorder.LogOperation(ctx, Record{
		Operation: "update_associations",
		PostID:    "post-2",
		GroupIDs:  []string{"g1"},
		Success:   false,
		Err:       retry.New(retry.KindPermission, "validate", "not a member"),
	})

	entries := recorder.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected ring to hold 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != "update_associations" || entries[0].PostID != "post-1" {
		t.Fatalf("expected oldest entry to be evicted, got %+v", entries[0])
	}
	last := entries[1]
	if last.ErrorKind != retry.KindPermission {
		t.Fatalf("expected permission kind, got %s", last.ErrorKind)
	}
	if last.ID == "" {
		t.Fatalf("expected entry id to be assigned")
	}
}

func TestLogOperationSwallowsSinkFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &failingSink{}
	recorder := NewRecorder(RecorderConfig{Sink: sink, Logger: zap.New(core)})

	recorder.LogOperation(context.Background(), Record{Operation: "remove_from_groups", Success: true})

	if sink.calls != 1 {
		t.Fatalf("expected sink to be called once, got %d", sink.calls)
	}
	if len(logs.FilterMessage("audit sink append failed").All()) != 1 {
		t.Fatalf("expected sink failure to be logged")
	}
	if len(recorder.Entries()) != 1 {
		t.Fatalf("expected entry to be buffered despite sink failure")
	}
}

func TestTrackPerformanceWarnsOnSlowOperations(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	clock := &steppingClock{now: time.Unix(1700000000, 0), step: 3 * time.Second}
	recorder := NewRecorder(RecorderConfig{
		SlowThreshold: 2 * time.Second,
		Clock:         clock.Now,
		Logger:        zap.New(core),
	})

	err := recorder.TrackPerformance("update_associations", "actor-1", func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	samples := recorder.Samples()
	if len(samples) != 1 {
		t.Fatalf("expected one sample, got %d", len(samples))
	}
	if samples[0].Duration != 3*time.Second || !samples[0].Success {
		t.Fatalf("unexpected sample: %+v", samples[0])
	}
	slowLogs := logs.FilterMessage("slow association operation").All()
	if len(slowLogs) != 1 || slowLogs[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn-level slow operation log, got %d", len(slowLogs))
	}
}

func TestTrackReturnsValueAndError(t *testing.T) {
	recorder := NewRecorder(RecorderConfig{})
	failure := errors.New("boom")

	value, err := Track(recorder, "get_associations", "actor-1", func() (int, error) {
		return 7, failure
	})
	if value != 7 || !errors.Is(err, failure) {
		t.Fatalf("expected value and error to pass through, got %d %v", value, err)
	}
	if recorder.Samples()[0].Success {
		t.Fatalf("expected failed sample")
	}
}

func TestTrackOutcomeCountsRejectedValuesAsFailures(t *testing.T) {
	recorder := NewRecorder(RecorderConfig{})
	type outcome struct{ ok bool }
	accepted := func(value outcome) bool { return value.ok }

	if _, err := TrackOutcome(recorder, "update_associations", "actor-1", func() (outcome, error) {
		return outcome{ok: false}, nil
	}, accepted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := TrackOutcome(recorder, "update_associations", "actor-1", func() (outcome, error) {
		return outcome{ok: true}, nil
	}, accepted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	samples := recorder.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected two samples, got %d", len(samples))
	}
	if samples[0].Success || !samples[1].Success {
		t.Fatalf("expected failed then successful sample, got %+v", samples)
	}
	if recorder.Metrics().SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", recorder.Metrics().SuccessRate)
	}
}
