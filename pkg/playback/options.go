package playback

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy bounds construction attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of construction attempts.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait before
	// the next attempt.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single attempt; 0 disables the deadline.
	AttemptTimeout time.Duration
}

// RecoveryPolicy holds the fixed delays of the recovery sequence.
type RecoveryPolicy struct {
	SettleDelay   time.Duration // between pause and reload
	QualityDelay  time.Duration // between reload and quality reassertion
	RecreateDelay time.Duration // before a full recreation after a failed reload
	OnlineDelay   time.Duration // before reissuing the channel when back online
}

// QualityPolicy configures lowest-quality enforcement.
type QualityPolicy struct {
	Preferred     string
	PollInterval  time.Duration
	MaxAttempts   int
	InitialDelays []time.Duration
}

// Options configures a Controller.
type Options struct {
	Retry    RetryPolicy
	Recovery RecoveryPolicy
	Quality  QualityPolicy

	// ReapInterval is the idle reaper period; 0 disables the reaper.
	ReapInterval time.Duration
	// IdleThreshold is how long a stable handle may go untouched.
	IdleThreshold time.Duration

	// Throttle delays every admitted create operation.
	Throttle time.Duration

	// MaxHandles caps live handles; 0 means unlimited.
	MaxHandles int

	// Parents is used for requests that do not carry their own
	// allowed-embed-origins.
	Parents []string

	// Clock is the time source; nil means the wall clock.
	Clock clockwork.Clock
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			BaseDelay:      2 * time.Second,
			AttemptTimeout: 15 * time.Second,
		},
		Recovery: RecoveryPolicy{
			SettleDelay:   2 * time.Second,
			QualityDelay:  3 * time.Second,
			RecreateDelay: 5 * time.Second,
			OnlineDelay:   2 * time.Second,
		},
		Quality: QualityPolicy{
			Preferred:     "160p",
			PollInterval:  5 * time.Second,
			MaxAttempts:   10,
			InitialDelays: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 5 * time.Second},
		},
		ReapInterval:  30 * time.Second,
		IdleThreshold: 60 * time.Second,
		Parents:       []string{"localhost"},
	}
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Retry.MaxAttempts < 1 {
		o.Retry.MaxAttempts = 1
	}
	return o
}
