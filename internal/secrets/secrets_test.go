// ABOUTME: Tests for the settings cipher and password hashing helpers
// ABOUTME: Tampering, wrong keys and label swaps must all fail to open

package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("an encryption key that is long enough")
	require.NoError(t, err)

	sealed, err := c.Seal("admin_password", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	plain, err := c.Open("admin_password", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	again, err := c.Seal("admin_password", "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")
}

func TestCipher_OpenFailures(t *testing.T) {
	c, err := NewCipher("key one key one key one key one!")
	require.NoError(t, err)
	other, err := NewCipher("key two key two key two key two!")
	require.NoError(t, err)

	sealed, err := c.Seal("admin_password", "secret")
	require.NoError(t, err)

	_, err = other.Open("admin_password", sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Open("other_setting", sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Open("admin_password", "not base64 !!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Open("admin_password", "c2hvcnQ=")
	assert.ErrorIs(t, err, ErrDecrypt)

	tampered := []byte(sealed)
	i := len(tampered) / 2
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}
	_, err = c.Open("admin_password", string(tampered))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewCipher_EmptyKey(t *testing.T) {
	_, err := NewCipher("")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "battery staple"), ErrMismatch)
	assert.ErrorIs(t, CheckPassword("", "correct horse"), ErrMismatch)
	assert.ErrorIs(t, CheckPassword(hash, ""), ErrMismatch)
	assert.ErrorIs(t, CheckPassword("not-a-hash", "x"), ErrMismatch)

	_, err = HashPassword("")
	assert.Error(t, err)
}
