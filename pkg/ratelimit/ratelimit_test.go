package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/gwerrors"
)

func TestValidateMaxTokensRequired_MissingMaxTokensIsTerminal(t *testing.T) {
	err := ValidateMaxTokensRequired("openai", nil, "openai-primary")
	require.Error(t, err)
	assert.True(t, gwerrors.IsRateLimitMissingMaxTokensError(err))
}

func TestValidateMaxTokensRequired_NoBucketAllowsMissingMaxTokens(t *testing.T) {
	err := ValidateMaxTokensRequired("openai", nil, "")
	assert.NoError(t, err)
}

func TestValidateMaxTokensRequired_MaxTokensPresentPasses(t *testing.T) {
	max := 256
	err := ValidateMaxTokensRequired("openai", &max, "openai-primary")
	assert.NoError(t, err)
}

func TestManager_ConsumeWithinBurstReturnsImmediately(t *testing.T) {
	m := NewManager()
	m.RegisterBucket("scope-a", BucketConfig{TokensPerSecond: 100, Burst: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	ticket, err := m.Consume(ctx, "scope-a", 500)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.EqualValues(t, 500, ticket.Reserved())
}

func TestManager_UnregisteredScopeIsUnbounded(t *testing.T) {
	m := NewManager()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ticket, err := m.Consume(ctx, "never-registered", 1_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, ticket.Reserved())
}

func TestManager_ConsumeBlocksUntilCapacityRefills(t *testing.T) {
	m := NewManager()
	m.RegisterBucket("scope-b", BucketConfig{TokensPerSecond: 1000, Burst: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First consume drains the burst entirely.
	_, err := m.Consume(ctx, "scope-b", 10)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.Consume(ctx, "scope-b", 10)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 5*time.Millisecond)
}

func TestManager_ConsumeRespectsContextCancellation(t *testing.T) {
	m := NewManager()
	m.RegisterBucket("scope-c", BucketConfig{TokensPerSecond: 1, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Consume(ctx, "scope-c", 1)
	require.NoError(t, err)

	_, err = m.Consume(ctx, "scope-c", 1)
	assert.Error(t, err)
}

func TestManager_ReturnIsIdempotent(t *testing.T) {
	m := NewManager()
	m.RegisterBucket("scope-d", BucketConfig{TokensPerSecond: 100, Burst: 100})

	ctx := context.Background()
	ticket, err := m.Consume(ctx, "scope-d", 50)
	require.NoError(t, err)

	actual := int64(10)
	assert.NotPanics(t, func() {
		m.Return(ticket, &actual)
		m.Return(ticket, &actual) // second call must be a no-op
	})
}

func TestManager_ReturnWithUnderEstimateUsageLeavesReservation(t *testing.T) {
	m := NewManager()
	m.RegisterBucket("scope-e", BucketConfig{TokensPerSecond: 100, Burst: 100})

	ctx := context.Background()
	ticket, err := m.Consume(ctx, "scope-e", 50)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.Return(ticket, nil) // stream errored before usage was observed
	})
}

func TestManager_ReturnReconcilesUnderConsumedTokensForNextCaller(t *testing.T) {
	m := NewManager()
	m.RegisterBucket("scope-f", BucketConfig{TokensPerSecond: 1, Burst: 100})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ticket, err := m.Consume(ctx, "scope-f", 100)
	require.NoError(t, err)

	actual := int64(10)
	m.Return(ticket, &actual)

	// Giving back 90 unused tokens should let a modest follow-up consume
	// proceed promptly rather than waiting on the full 1-token/sec refill.
	start := time.Now()
	_, err = m.Consume(ctx, "scope-f", 20)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
