package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := newRateLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.allow(), "message %d within burst should be allowed", i)
	}
	assert.False(t, rl.allow(), "message beyond burst should be rejected")
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	time.Sleep(120 * time.Millisecond)
	assert.True(t, rl.allow(), "tokens should refill after the interval")
}

func TestRateLimiter_SanitizesInvalidParameters(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow(), "sanitized limiter should still allow a message")
}
