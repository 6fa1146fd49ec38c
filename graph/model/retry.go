package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy retries transient provider failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Delay is the wait before a retry. Rate-limited attempts wait
	// Delay * (attempt + 1).
	Delay time.Duration
}

// DefaultRetryPolicy is used by the provider adapters.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Delay: time.Second}

// ErrorClass is how a provider error should be handled.
type ErrorClass int

const (
	// Permanent errors are returned immediately.
	Permanent ErrorClass = iota
	// Transient errors are retried after Delay.
	Transient
	// RateLimited errors are retried with a growing delay.
	RateLimited
)

// Do calls fn until it succeeds, returns a permanent error, or the retries
// are used up. provider names the adapter in the final error.
func (p RetryPolicy) Do(ctx context.Context, provider string, classify func(error) ErrorClass, fn func(context.Context) (ChatOut, error)) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return ChatOut{}, ctx.Err()
		}
		lastErr = err

		class := classify(err)
		if class == Permanent {
			return ChatOut{}, err
		}
		if attempt >= p.MaxRetries {
			break
		}

		delay := p.Delay
		if class == RateLimited {
			delay = p.Delay * time.Duration(attempt+1)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ChatOut{}, ctx.Err()
		}
	}
	return ChatOut{}, fmt.Errorf("%s API failed after %d retries: %w", provider, p.MaxRetries, lastErr)
}

// ClassifyStatus maps an HTTP status code to an ErrorClass.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code == 429:
		return RateLimited
	case code == 408 || code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// ClassifyMessage is the fallback for errors without a status code.
func ClassifyMessage(err error) ErrorClass {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource exhausted") {
		return RateLimited
	}
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "unavailable", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return Transient
		}
	}
	return Permanent
}
