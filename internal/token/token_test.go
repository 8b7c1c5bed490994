package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionKindIsValid(t *testing.T) {
	assert.True(t, KindPasswordReset.IsValid())
	assert.True(t, KindEmailVerification.IsValid())
	assert.False(t, ActionKind("").IsValid())
	assert.False(t, ActionKind("session").IsValid())
}

func TestActionTokenLive(t *testing.T) {
	now := time.Now().UTC()
	tok := &ActionToken{
		IssuedAt:  now,
		ExpiresAt: now.Add(1 * time.Hour),
	}

	assert.True(t, tok.Live(now))
	assert.True(t, tok.Live(now.Add(59*time.Minute)))
	assert.False(t, tok.Live(now.Add(1*time.Hour)))

	consumedAt := now.Add(10 * time.Minute)
	tok.ConsumedAt = &consumedAt
	assert.False(t, tok.Live(now.Add(20*time.Minute)))
}

func TestTTLTable(t *testing.T) {
	ttls := DefaultTTLTable()
	assert.Equal(t, 1*time.Hour, ttls.TTL(KindPasswordReset))
	assert.Equal(t, 24*time.Hour, ttls.TTL(KindEmailVerification))

	// Unknown kinds fall back rather than issuing immortal tokens
	assert.Equal(t, 1*time.Hour, ttls.TTL(ActionKind("mystery")))
	assert.Equal(t, 1*time.Hour, TTLTable{}.TTL(KindPasswordReset))
}

func TestGenerateValue(t *testing.T) {
	value, err := generateValue(32)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(value, "tg_"))

	// 32 bytes of entropy encode to 43 base64url characters
	assert.Len(t, value, len("tg_")+43)

	// Values must be unique
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v, err := generateValue(32)
		require.NoError(t, err)
		assert.False(t, seen[v], "duplicate token value generated")
		seen[v] = true
	}
}

func TestGenerateValueEnforcesEntropyFloor(t *testing.T) {
	// Requests below the 128-bit floor are raised to it
	value, err := generateValue(4)
	require.NoError(t, err)

	// 16 bytes encode to 22 base64url characters
	assert.Len(t, value, len("tg_")+22)
}
