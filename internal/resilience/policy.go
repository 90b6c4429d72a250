package resilience

import (
	"math"
	"time"
)

// Retry bounds the attempts made for one request.
type Retry struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// Breaker trips a host once enough of its requests failed.
type Breaker struct {
	Enabled       bool
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	HalfOpenCalls uint32
}

// Policy is the retry and breaker setup shared by every host.
type Policy struct {
	Retry   Retry
	Breaker Breaker
}

func DefaultPolicy() Policy {
	return Policy{
		Retry: Retry{MaxAttempts: 3, Initial: 5 * time.Second, Max: 30 * time.Second, Multiplier: 2},
		Breaker: Breaker{
			Enabled:       true,
			MinRequests:   10,
			FailureRatio:  0.6,
			OpenTimeout:   time.Minute,
			HalfOpenCalls: 1,
		},
	}
}

// withDefaults fills unset fields from DefaultPolicy. Breaker.Enabled is
// taken as given.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	r, b := &p.Retry, &p.Breaker
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = def.Retry.MaxAttempts
	}
	if r.Initial <= 0 {
		r.Initial = def.Retry.Initial
	}
	if r.Max <= 0 {
		r.Max = def.Retry.Max
	}
	r.Max = max(r.Max, r.Initial)
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}
	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.Breaker.OpenTimeout
	}
	if b.HalfOpenCalls == 0 {
		b.HalfOpenCalls = def.Breaker.HalfOpenCalls
	}
	return p
}

// Delay is the wait after the given failed attempt, counted from 1.
func (r Retry) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.Initial) * math.Pow(r.Multiplier, float64(attempt-1))
	if d >= float64(r.Max) {
		return r.Max
	}
	return time.Duration(d)
}
