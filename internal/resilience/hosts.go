// Package resilience retries remote requests and isolates failing hosts
// behind circuit breakers.
package resilience

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"jurisline/internal/logging"
)

// Verdict says what a failed attempt means.
type Verdict struct {
	// Retry allows another attempt within the budget.
	Retry bool
	// Trip counts the failure against the host's breaker.
	Trip bool
}

type Classifier func(err error) Verdict

// Hosts runs requests with backoff retries. Each host gets its own breaker,
// so one dead portal does not block the others.
type Hosts struct {
	policy   Policy
	classify Classifier
	log      *zap.Logger

	// Sleep waits between attempts; tests may replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewHosts builds the executor. A nil classifier treats every error as
// final and counts it against the host.
func NewHosts(p Policy, classify Classifier, log *zap.Logger) *Hosts {
	if classify == nil {
		classify = func(error) Verdict { return Verdict{Trip: true} }
	}
	return &Hosts{
		policy:   p.withDefaults(),
		classify: classify,
		log:      logging.OrNop(log),
		Sleep:    sleepContext,
		breakers: map[string]*gobreaker.CircuitBreaker[struct{}]{},
	}
}

// Attempts returns the retry budget per request.
func (h *Hosts) Attempts() int { return h.policy.Retry.MaxAttempts }

// Do runs fn for rawURL behind the breaker of the URL's host.
func (h *Hosts) Do(ctx context.Context, rawURL string, fn func(context.Context) error) error {
	host := HostKey(rawURL)
	if !h.policy.Breaker.Enabled {
		return h.retry(ctx, host, fn)
	}
	_, err := h.breaker(host).Execute(func() (struct{}, error) {
		return struct{}{}, h.retry(ctx, host, fn)
	})
	return err
}

func (h *Hosts) retry(ctx context.Context, host string, fn func(context.Context) error) error {
	r := h.policy.Retry
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.MaxAttempts || !h.classify(err).Retry {
			return err
		}
		wait := r.Delay(attempt)
		h.log.Warn("request retry",
			zap.String("host", host),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		if h.Sleep(ctx, wait) != nil {
			return err
		}
	}
}

func (h *Hosts) breaker(host string) *gobreaker.CircuitBreaker[struct{}] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok := h.breakers[host]; ok {
		return cb
	}
	b := h.policy.Breaker
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        host,
		MaxRequests: b.HalfOpenCalls,
		Timeout:     b.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= b.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= b.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !h.classify(err).Trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.Warn("host breaker state change",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	h.breakers[host] = cb
	return cb
}

// HostKey returns the breaker key of rawURL: its host, or rawURL itself
// when it does not parse.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// IsCircuitOpen reports whether err was returned without calling the host.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
