package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	secret, hash, err := Issue()
	require.NoError(t, err)
	require.Len(t, secret, 64) // 32 байта в hex
	require.NotEmpty(t, hash)

	assert.True(t, Verify(hash, secret))
	assert.False(t, Verify(hash, secret+"x"))
	assert.False(t, Verify(hash, ""))
}

func TestIssueUnique(t *testing.T) {
	s1, h1, err := Issue()
	require.NoError(t, err)
	s2, h2, err := Issue()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, h1, h2)
	// хэш одного секрета не подходит к другому
	assert.False(t, Verify(h1, s2))
}

func TestNewViewToken(t *testing.T) {
	v1 := NewViewToken()
	v2 := NewViewToken()
	assert.Len(t, v1, 32)
	assert.NotEqual(t, v1, v2)
}
