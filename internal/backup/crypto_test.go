package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	return raw
}

func TestAesKeyWrapRoundTrip(t *testing.T) {
	kek := bytes.Repeat([]byte{0x11}, 32)
	key := bytes.Repeat([]byte{0x22}, 32)

	wrapped, err := aesWrapKey(kek, key)
	require.NoError(t, err)
	assert.Len(t, wrapped, len(key)+8)

	unwrapped, err := aesUnwrapKey(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)
}

// RFC 3394 test vector 4.6: 256-bit key data with a 256-bit KEK.
func TestAesKeyWrapVector(t *testing.T) {
	kek := mustHex(t, "000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F")
	key := mustHex(t, "00112233445566778899AABBCCDDEEFF000102030405060708090A0B0C0D0E0F")
	want := mustHex(t, "28C9F404C4B810F4CBCCB35CFB87F8263F5786E2D80ED326CBC7F0E71A99F43BFB988B9B7A02DD21")

	wrapped, err := aesWrapKey(kek, key)
	require.NoError(t, err)
	assert.Equal(t, want, wrapped)

	unwrapped, err := aesUnwrapKey(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)
}

func TestAesUnwrapRejectsTamperedBlob(t *testing.T) {
	kek := bytes.Repeat([]byte{0x11}, 32)
	key := bytes.Repeat([]byte{0x22}, 32)

	wrapped, err := aesWrapKey(kek, key)
	require.NoError(t, err)
	wrapped[0] ^= 0xFF

	_, err = aesUnwrapKey(kek, wrapped)
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestAesUnwrapRejectsShortBlob(t *testing.T) {
	_, err := aesUnwrapKey(bytes.Repeat([]byte{0x11}, 32), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecryptWithKeyRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	plaintext := bytes.Repeat([]byte("chat record payload "), 10)

	// Pad to the block size the way the backup writer does.
	padded := make([]byte, (len(plaintext)/aes.BlockSize+1)*aes.BlockSize)
	copy(padded, plaintext)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(encrypted, padded)

	dec, err := decryptWithKey(key, encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, dec[:len(plaintext)])
}

func TestDecryptWithKeyRejectsUnalignedPayload(t *testing.T) {
	_, err := decryptWithKey(bytes.Repeat([]byte{0x42}, 32), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrDecryptFailure)
}
