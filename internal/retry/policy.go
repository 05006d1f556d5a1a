package retry

import "time"

const (
	defaultNetworkMaxRetries  = 3
	defaultNetworkBaseDelay   = time.Second
	defaultNetworkMaxDelay    = 10 * time.Second
	defaultDatabaseMaxRetries = 2
	defaultDatabaseBaseDelay  = 500 * time.Millisecond
)

// Strategy describes how a failure should be handled.
type Strategy struct {
	ShouldRetry        bool
	MaxRetries         int
	Delay              time.Duration
	UserActionRequired bool
}

// Policy holds the type-specific retry budgets.
type Policy struct {
	NetworkMaxRetries  int
	NetworkBaseDelay   time.Duration
	NetworkMaxDelay    time.Duration
	DatabaseMaxRetries int
	DatabaseBaseDelay  time.Duration
}

// DefaultPolicy returns the budgets used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		NetworkMaxRetries:  defaultNetworkMaxRetries,
		NetworkBaseDelay:   defaultNetworkBaseDelay,
		NetworkMaxDelay:    defaultNetworkMaxDelay,
		DatabaseMaxRetries: defaultDatabaseMaxRetries,
		DatabaseBaseDelay:  defaultDatabaseBaseDelay,
	}
}

// RecoveryStrategy derives the strategy for the given kind after attempt failures (1-based).
// Network failures back off exponentially up to NetworkMaxDelay, database failures back off
// linearly, and permission or validation failures are never retried.
func (p Policy) RecoveryStrategy(kind Kind, attempt int) Strategy {
	if attempt < 1 {
		attempt = 1
	}
	switch kind {
	case KindNetwork:
		delay := p.NetworkBaseDelay
		for step := 1; step < attempt; step++ {
			delay *= 2
			if p.NetworkMaxDelay > 0 && delay >= p.NetworkMaxDelay {
				break
			}
		}
		if p.NetworkMaxDelay > 0 && delay > p.NetworkMaxDelay {
			delay = p.NetworkMaxDelay
		}
		return Strategy{
			ShouldRetry: attempt <= p.NetworkMaxRetries,
			MaxRetries:  p.NetworkMaxRetries,
			Delay:       delay,
		}
	case KindPermission, KindValidation:
		return Strategy{UserActionRequired: true}
	default:
		return Strategy{
			ShouldRetry: attempt <= p.DatabaseMaxRetries,
			MaxRetries:  p.DatabaseMaxRetries,
			Delay:       p.DatabaseBaseDelay * time.Duration(attempt),
		}
	}
}
