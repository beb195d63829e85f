package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "attempt %d within limit", i)
	}
	assert.False(t, rl.Allow("alice"))

	// Other users have their own window.
	assert.True(t, rl.Allow("bob"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("alice"), "window expired")
}
