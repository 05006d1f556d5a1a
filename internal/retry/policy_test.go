package retry

import (
	"testing"
	"time"
)

func TestRecoveryStrategyBudgetsDifferByKind(t *testing.T) {
	policy := DefaultPolicy()

	network := policy.RecoveryStrategy(KindNetwork, 1)
	database := policy.RecoveryStrategy(KindDatabase, 1)
	if network.MaxRetries <= database.MaxRetries {
		t.Fatalf("expected network budget %d to exceed database budget %d", network.MaxRetries, database.MaxRetries)
	}

	for _, kind := range []Kind{KindPermission, KindValidation} {
		strategy := policy.RecoveryStrategy(kind, 1)
		if strategy.ShouldRetry || strategy.MaxRetries != 0 {
			t.Fatalf("expected no retries for %s, got %+v", kind, strategy)
		}
		if !strategy.UserActionRequired {
			t.Fatalf("expected user action for %s", kind)
		}
	}
}

func TestRecoveryStrategyNetworkBackoffIsExponentialAndCapped(t *testing.T) {
	policy := Policy{
		NetworkMaxRetries: 10,
		NetworkBaseDelay:  100 * time.Millisecond,
		NetworkMaxDelay:   time.Second,
	}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for index, expected := range want {
		attempt := index + 1
		if got := policy.RecoveryStrategy(KindNetwork, attempt).Delay; got != expected {
			t.Fatalf("attempt %d: expected delay %s, got %s", attempt, expected, got)
		}
	}
}

func TestRecoveryStrategyDatabaseBackoffIsLinear(t *testing.T) {
	policy := Policy{DatabaseMaxRetries: 2, DatabaseBaseDelay: 250 * time.Millisecond}
	for attempt := 1; attempt <= 3; attempt++ {
		strategy := policy.RecoveryStrategy(KindDatabase, attempt)
		if strategy.Delay != time.Duration(attempt)*250*time.Millisecond {
			t.Fatalf("attempt %d: unexpected delay %s", attempt, strategy.Delay)
		}
		if strategy.ShouldRetry != (attempt <= 2) {
			t.Fatalf("attempt %d: unexpected ShouldRetry %v", attempt, strategy.ShouldRetry)
		}
	}
}
