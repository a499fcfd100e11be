package token

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsUniqueHexTokens(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := New()
		assert.Len(t, tok, 32)
		_, err := hex.DecodeString(tok)
		assert.NoError(t, err)
		assert.False(t, seen[tok], "token %s repeated", tok)
		seen[tok] = true
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("sesame")
	require.NoError(t, err)
	assert.NotEqual(t, "sesame", hash)

	assert.True(t, CheckPassword(hash, "sesame"))
	assert.False(t, CheckPassword(hash, "Sesame"))
	assert.False(t, CheckPassword(hash, ""))
}

func TestCheckPasswordRejectsGarbageHash(t *testing.T) {
	assert.False(t, CheckPassword("not-a-bcrypt-hash", "sesame"))
}
