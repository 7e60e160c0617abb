package ai

import (
	"context"
	"strings"
	"time"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 4 * time.Second
)

// RetryPolicy bounds how often a transient narrator failure is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type retryingNarrator struct {
	next   Narrator
	policy RetryPolicy
}

// WithRetry retries rate-limit and server failures with exponential backoff.
func WithRetry(next Narrator, policy RetryPolicy) Narrator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = defaultInitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = defaultMaxBackoff
	}
	return &retryingNarrator{next: next, policy: policy}
}

func (r *retryingNarrator) Enabled() bool {
	return r.next != nil && r.next.Enabled()
}

func (r *retryingNarrator) Narrate(ctx context.Context, input NarrativeInput) (Narrative, error) {
	if !r.Enabled() {
		return Narrative{}, ErrDisabled
	}

	delay := r.policy.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		narrative, err := r.next.Narrate(ctx, input)
		if err == nil {
			return narrative, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return Narrative{}, ctx.Err()
		}
		if !shouldRetry(err) || attempt == r.policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return Narrative{}, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.policy.MaxBackoff {
			delay = r.policy.MaxBackoff
		}
	}

	return Narrative{}, lastErr
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status 429") || strings.Contains(msg, "status 500") || strings.Contains(msg, "status 503")
}
