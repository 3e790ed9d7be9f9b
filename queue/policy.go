package queue

import (
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const (
	DefaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 5 * time.Minute
)

// RetryPolicy bounds redelivery so a failing task cannot loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		BaseDelay:       defaultBaseDelay,
		MaxDelay:        defaultMaxDelay,
		DeadLetterOnMax: true,
	}
}

// Normalize clamps the nack for the given attempt. Once MaxAttempts is
// reached the message is no longer requeued.
func (p RetryPolicy) Normalize(opts core.NackOptions, attempt int) core.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if out.Requeue && out.Delay == 0 {
		out.Delay = p.Backoff(attempt)
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts && out.Requeue {
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
	}
	return out
}

// Backoff doubles BaseDelay per prior attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}
