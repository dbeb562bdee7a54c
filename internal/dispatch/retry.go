package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// RetryPolicy decides whether and when a failed invocation is attempted
// again. Only connection and timeout failures are retried; the attempts of
// one call share the dispatcher's call timeout.
type RetryPolicy struct {
	// MaxAttempts caps the number of attempts, the first included.
	// Values below 1 mean 1.
	MaxAttempts uint `yaml:"max_attempts"`

	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`

	// AttemptTimeout bounds each attempt. Zero lets a single attempt use the
	// whole call timeout, which means a timed out call is never retried.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultRetryPolicy retries a dropped connection once after a short pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
	}
}

// NoRetry makes every call a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Retries reports whether a failure of kind may be attempted again.
func (p RetryPolicy) Retries(kind tools.ErrorKind) bool {
	return p.maxAttempts() > 1 && kind.Retryable()
}

func (p RetryPolicy) maxAttempts() uint {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	return b
}

func (p RetryPolicy) options(notify backoff.Notify) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxAttempts()),
		// The call timeout bounds the total; this only disables the default cap.
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	}
}
