package test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"listing-sync-service/internal/repository"
)

func TestNextRetryDelaysDoubleUntilCap(t *testing.T) {
	backoffCap := 60 * time.Minute

	tests := []struct {
		name       string
		retryCount int
		wantDelay  time.Duration
	}{
		{"first failure", 0, 2 * time.Minute},
		{"second failure", 1, 4 * time.Minute},
		{"third failure", 2, 8 * time.Minute},
		{"sixth failure", 5, 60 * time.Minute}, // 64m capped
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, terminal := repository.NextRetry(tt.retryCount, 10, backoffCap)
			assert.False(t, terminal)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}

func TestNextRetryIsStrictlyIncreasingBelowCap(t *testing.T) {
	backoffCap := 60 * time.Minute

	prev := time.Duration(0)
	for count := 0; count < 4; count++ {
		delay, terminal := repository.NextRetry(count, 10, backoffCap)
		assert.False(t, terminal)
		assert.Greater(t, delay, prev, "delay after failure %d must exceed the previous one", count+1)
		prev = delay
	}
}

func TestNextRetryTerminalAtBudget(t *testing.T) {
	backoffCap := 60 * time.Minute

	// max_retries=3: failures while retry_count is 0..2 re-queue, the
	// fourth failure (retry_count 3) is terminal
	for count := 0; count < 3; count++ {
		_, terminal := repository.NextRetry(count, 3, backoffCap)
		assert.False(t, terminal, "retry_count %d should stay under the budget", count)
	}

	delay, terminal := repository.NextRetry(3, 3, backoffCap)
	assert.True(t, terminal)
	assert.Zero(t, delay)

	_, terminal = repository.NextRetry(7, 3, backoffCap)
	assert.True(t, terminal)
}

func TestNextRetryZeroBudgetIsImmediatelyTerminal(t *testing.T) {
	_, terminal := repository.NextRetry(0, 0, time.Hour)
	assert.True(t, terminal)
}

func TestNextRetryEnforcesMinimumCap(t *testing.T) {
	delay, terminal := repository.NextRetry(5, 10, 0)
	assert.False(t, terminal)
	assert.Equal(t, time.Minute, delay)
}

func TestNextRetryLargeCountDoesNotOverflow(t *testing.T) {
	backoffCap := 60 * time.Minute

	delay, terminal := repository.NextRetry(62, 100, backoffCap)
	assert.False(t, terminal)
	assert.Equal(t, backoffCap, delay)
}
