package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHmacSHA512(t *testing.T) {
	t.Run("returns 128 character hex string", func(t *testing.T) {
		assert.Len(t, HmacSHA512("secret", []byte("data")), 128)
	})

	t.Run("different secret produces different result", func(t *testing.T) {
		assert.NotEqual(t, HmacSHA512("secret1", []byte("data")), HmacSHA512("secret2", []byte("data")))
	})

	t.Run("produces expected HMAC", func(t *testing.T) {
		result := HmacSHA512("key", []byte("The quick brown fox jumps over the lazy dog"))
		assert.Equal(t, "b42af09057bac1e2d41708e48a902e09b5ff7f12ab428a4fe86653c73dd248fb82f948a549f7b791a5b41915ee4d1ec3935357e4e2317250d0372afa2ebeeb3a", result)
	})
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "ab"))
}

func TestCanonicalJSON(t *testing.T) {
	t.Run("sorts keys at every level", func(t *testing.T) {
		out, err := CanonicalJSON([]byte(`{"b":1,"a":{"d":"<x>","c":[2,1]},"n":1.50}`))
		require.NoError(t, err)
		assert.Equal(t, `{"a":{"c":[2,1],"d":"<x>"},"b":1,"n":1.5}`, string(out))
	})

	t.Run("ignores whitespace in the input", func(t *testing.T) {
		a, err := CanonicalJSON([]byte("{ \"payment_id\": 5077125051,\n \"order_id\": \"sub_x_1\" }"))
		require.NoError(t, err)
		assert.Equal(t, `{"order_id":"sub_x_1","payment_id":5077125051}`, string(a))
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := CanonicalJSON([]byte(`{"a":`))
		assert.Error(t, err)
	})
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong horse", hash))
}

func TestMaskRef(t *testing.T) {
	assert.Equal(t, "cus_ABCD****", MaskRef("cus_ABCDEFGHIJ"))
	assert.Equal(t, "****", MaskRef("abcd"))
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f"))
	assert.False(t, IsValidUUID("6F1C2B8E-3D4A-4C5B-9E7F-0A1B2C3D4E5F"))
	assert.False(t, IsValidUUID("not-a-uuid"))
	assert.False(t, IsValidUUID(""))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("trader@example.com"))
	assert.False(t, IsValidEmail("Trader <trader@example.com>"))
	assert.False(t, IsValidEmail("nope"))
	assert.Equal(t, "trader@example.com", NormalizeEmail("  Trader@Example.com "))
}
