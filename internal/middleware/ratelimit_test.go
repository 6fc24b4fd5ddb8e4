package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := newRateLimiter(3, 100*time.Millisecond)

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"), "лимит исчерпан")
	assert.True(t, rl.allow("b"), "другой ключ считается отдельно")

	time.Sleep(120 * time.Millisecond)
	assert.True(t, rl.allow("a"), "окно сдвинулось")
}
