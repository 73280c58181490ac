package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := generateTestKey(t)

	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	decryptor, err := NewDecryptor(key)
	require.NoError(t, err)

	plaintexts := [][]byte{
		[]byte("x"),
		[]byte("hello atlas"),
		make([]byte, 64*1024),
	}
	_, err = rand.Read(plaintexts[2])
	require.NoError(t, err)

	for _, plaintext := range plaintexts {
		e, err := encryptor.Encrypt(plaintext)
		require.NoError(t, err)

		decrypted, err := decryptor.Decrypt(e)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptEmptyData(t *testing.T) {
	key := generateTestKey(t)
	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)

	_, err = encryptor.Encrypt(nil)
	require.Error(t, err)
}

// TestEncryptFreshRandomness asserts that salts and nonces are drawn fresh
// for every call: across many envelopes of the same plaintext under the same
// key there must be no collisions.
func TestEncryptFreshRandomness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 1000-envelope randomness check in short mode")
	}

	key := generateTestKey(t)
	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)

	const n = 1000
	salts := make(map[string]struct{}, n)
	nonces := make(map[string]struct{}, n)
	plaintext := []byte("identical plaintext for every call")

	for i := 0; i < n; i++ {
		e, err := encryptor.Encrypt(plaintext)
		require.NoError(t, err)

		salt := hex.EncodeToString(e.Salt)
		_, collision := salts[salt]
		require.False(t, collision, "salt collision after %d envelopes", i)
		salts[salt] = struct{}{}

		nonce := hex.EncodeToString(e.Nonce)
		_, collision = nonces[nonce]
		require.False(t, collision, "nonce collision after %d envelopes", i)
		nonces[nonce] = struct{}{}
	}
}

// TestDecryptTamperedEnvelope flips every single byte of the ciphertext and
// the tag in turn, asserting that decryption fails closed each time.
func TestDecryptTamperedEnvelope(t *testing.T) {
	key := generateTestKey(t)
	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	decryptor, err := NewDecryptor(key)
	require.NoError(t, err)

	e, err := encryptor.Encrypt([]byte("payload that must not survive tampering"))
	require.NoError(t, err)

	tamper := func(field []byte) {
		for i := range field {
			field[i] ^= 0x01

			plaintext, err := decryptor.Decrypt(e)
			require.Error(t, err, "tampered byte %d went undetected", i)
			var integrityErr *IntegrityError
			require.ErrorAs(t, err, &integrityErr)
			require.Nil(t, plaintext, "no plaintext may be returned on tag failure")

			field[i] ^= 0x01
		}
	}

	tamper(e.Ciphertext)
	tamper(e.Tag)

	// Untampered envelope still decrypts.
	_, err = decryptor.Decrypt(e)
	require.NoError(t, err)
}

func TestDecryptTruncatedEnvelope(t *testing.T) {
	key := generateTestKey(t)
	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	decryptor, err := NewDecryptor(key)
	require.NoError(t, err)

	e, err := encryptor.Encrypt([]byte("some payload"))
	require.NoError(t, err)

	e.Tag = e.Tag[:8]
	_, err = decryptor.Decrypt(e)
	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
}

func TestDecryptWrongKey(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)

	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	decryptor, err := NewDecryptor(otherKey)
	require.NoError(t, err)

	e, err := encryptor.Encrypt([]byte("addressed to someone else"))
	require.NoError(t, err)

	_, err = decryptor.Decrypt(e)
	var keyErr *KeyError
	require.ErrorAs(t, err, &keyErr)
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	_, err := NewEncryptor(nil)
	var keyErr *KeyError
	require.ErrorAs(t, err, &keyErr)

	smallKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	_, err = NewEncryptor(&smallKey.PublicKey)
	require.ErrorAs(t, err, &keyErr)
}

func TestNewDecryptorRejectsBadKeys(t *testing.T) {
	_, err := NewDecryptor(nil)
	var keyErr *KeyError
	require.ErrorAs(t, err, &keyErr)

	smallKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	_, err = NewDecryptor(smallKey)
	require.ErrorAs(t, err, &keyErr)
}
