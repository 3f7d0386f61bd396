// Package ratelimit is the Rate-Limit Ticket Manager (spec.md §4.5):
// consume reserves an estimated-output-token credit against a named
// bucket before the adapter sends an HTTP request; return reconciles
// that estimate against the usage the provider actually reported.
// Grounded on the teacher's examples/middleware/rate-limiting/main.go
// TokenBucketLimiter, which wraps golang.org/x/time/rate.Limiter for
// exactly this kind of token-bucket gating — generalized here from a
// request-count bucket to an output-token bucket, and extended with the
// reserve/reconcile two-step §4.5 requires (the teacher's example only
// ever calls Allow/Wait, never gives tokens back).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inferencegw/core/pkg/gwerrors"
)

// Ticket is the handle returned by Consume; it must be passed to Return
// exactly once (spec.md §4.5 "every successful consume must be paired
// with exactly one return").
type Ticket struct {
	scope      string
	reserved   int64
	reservation *rate.Reservation
	returned   bool
}

// Reserved is the estimated output-token count this ticket reserved.
func (t *Ticket) Reserved() int64 { return t.reserved }

// BucketConfig configures one named token bucket (spec.md §4.5's
// `scope`, carried on ProviderBinding.RateLimitBucket).
type BucketConfig struct {
	// TokensPerSecond is the sustained output-token refill rate.
	TokensPerSecond float64
	// Burst is the maximum estimate a single consume may reserve at once.
	Burst int
}

// Manager owns one rate.Limiter per named bucket.
type Manager struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	configs  map[string]BucketConfig
}

// NewManager returns an empty Manager; buckets are created lazily from
// RegisterBucket or default to an effectively-unbounded limiter when a
// ProviderBinding names a scope that was never registered.
func NewManager() *Manager {
	return &Manager{
		buckets: make(map[string]*rate.Limiter),
		configs: make(map[string]BucketConfig),
	}
}

// RegisterBucket configures the limiter for a named scope. Call this at
// startup for every rate_limit_bucket named in the loaded ModelConfigs.
func (m *Manager) RegisterBucket(scope string, cfg BucketConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[scope] = cfg
	m.buckets[scope] = rate.NewLimiter(rate.Limit(cfg.TokensPerSecond), cfg.Burst)
}

func (m *Manager) limiterFor(scope string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.buckets[scope]; ok {
		return l
	}
	// Unregistered scope: treat as unbounded so a binding with no
	// explicit bucket is never blocked by a zero-value limiter.
	l := rate.NewLimiter(rate.Inf, 0)
	m.buckets[scope] = l
	return l
}

// Consume reserves maxTokens as an estimated-usage credit against scope,
// blocking until the bucket has capacity or ctx is cancelled (spec.md
// §4.5). maxTokens must be positive: if the request has no max_tokens
// and scope names a real rate-limited bucket, callers must reject the
// request with RateLimitMissingMaxTokens before ever calling Consume —
// see ValidateMaxTokensRequired.
func (m *Manager) Consume(ctx context.Context, scope string, maxTokens int64) (*Ticket, error) {
	limiter := m.limiterFor(scope)

	reservation := limiter.ReserveN(time.Now(), int(maxTokens))
	if !reservation.OK() {
		// Request exceeds the bucket's burst capacity outright. WaitN
		// rejects such a request with an error at once; it does not wait.
		if err := limiter.WaitN(ctx, int(maxTokens)); err != nil {
			return nil, err
		}
		return &Ticket{scope: scope, reserved: maxTokens}, nil
	}

	delay := reservation.Delay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			reservation.Cancel()
			return nil, ctx.Err()
		}
	}

	return &Ticket{scope: scope, reserved: maxTokens, reservation: reservation}, nil
}

// ValidateMaxTokensRequired implements spec.md §4.5's precondition: a
// rate-limited binding invoked without max_tokens fails deterministically
// before the provider is ever called.
func ValidateMaxTokensRequired(provider string, maxTokens *int, rateLimitBucket string) error {
	if rateLimitBucket != "" && maxTokens == nil {
		return gwerrors.NewRateLimitMissingMaxTokensError(provider)
	}
	return nil
}

// Return reconciles a ticket against the usage actually observed
// (spec.md §4.5). When actualOutputTokens is known (usage != nil) and
// differs from the reservation, the unused portion of the reservation is
// given back to the bucket via Reservation.Cancel, which x/time/rate
// defines to reverse a reservation's effect "as much as possible"
// relative to reservations made after it — then the actual amount is
// re-reserved so the bucket still accounts for genuine usage. When usage
// is nil (e.g. a stream errored before any usage was observed), the
// ticket is marked UnderEstimate: the full original reservation stands,
// since there's no better number to reconcile against.
func (m *Manager) Return(ticket *Ticket, actualOutputTokens *int64) {
	if ticket == nil || ticket.returned {
		return
	}
	ticket.returned = true

	if actualOutputTokens == nil || ticket.reservation == nil {
		return // UnderEstimate: reservation stands as consumed.
	}

	actual := *actualOutputTokens
	if actual == ticket.reserved {
		return // Exact: nothing to reconcile.
	}

	limiter := m.limiterFor(ticket.scope)
	ticket.reservation.Cancel()
	if actual > 0 {
		limiter.ReserveN(time.Now(), int(actual))
	}
}
