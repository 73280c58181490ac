package envelope

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestEnvelope(t *testing.T) *Envelope {
	t.Helper()

	e := &Envelope{
		Version:    FormatVersion,
		Salt:       make([]byte, saltSize),
		Nonce:      make([]byte, nonceSize),
		WrappedKey: make([]byte, 256),
		Ciphertext: make([]byte, 99),
		Tag:        make([]byte, tagSize),
	}
	for _, field := range [][]byte{e.Salt, e.Nonce, e.WrappedKey, e.Ciphertext, e.Tag} {
		_, err := rand.Read(field)
		require.NoError(t, err)
	}
	return e
}

func TestMarshalParseRoundTrip(t *testing.T) {
	e := buildTestEnvelope(t)

	data, err := Marshal(e)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}

// TestParseTruncated feeds Parse every prefix of a valid serialized envelope,
// from empty up to one byte short, and requires a FormatError for each.
func TestParseTruncated(t *testing.T) {
	e := buildTestEnvelope(t)
	data, err := Marshal(e)
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := Parse(data[:n])
		require.Error(t, err, "prefix of length %d must not parse", n)
		var formatErr *FormatError
		require.ErrorAs(t, err, &formatErr, "prefix of length %d: %v", n, err)
	}
}

func TestParseUnknownVersion(t *testing.T) {
	e := buildTestEnvelope(t)
	data, err := Marshal(e)
	require.NoError(t, err)

	data[0] = 2
	_, err = Parse(data)
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Contains(t, err.Error(), "unsupported envelope version")
}

func TestParseTrailingBytes(t *testing.T) {
	e := buildTestEnvelope(t)
	data, err := Marshal(e)
	require.NoError(t, err)

	data = append(data, 0xde, 0xad)
	_, err = Parse(data)
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestParseBadFieldSizes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"short salt", func(e *Envelope) { e.Salt = e.Salt[:16] }},
		{"long nonce", func(e *Envelope) { e.Nonce = append(e.Nonce, 0) }},
		{"empty wrapped key", func(e *Envelope) { e.WrappedKey = nil }},
		{"empty ciphertext", func(e *Envelope) { e.Ciphertext = nil }},
		{"short tag", func(e *Envelope) { e.Tag = e.Tag[:8] }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := buildTestEnvelope(t)
			tc.mutate(e)

			// Marshal refuses to produce malformed envelopes, so splice the
			// mutated fields into a hand-built serialization instead.
			data := []byte{e.Version}
			for _, f := range [][]byte{e.Salt, e.Nonce, e.WrappedKey, e.Ciphertext, e.Tag} {
				data = append(data, byte(len(f)>>24), byte(len(f)>>16), byte(len(f)>>8), byte(len(f)))
				data = append(data, f...)
			}

			_, err := Parse(data)
			var formatErr *FormatError
			require.ErrorAs(t, err, &formatErr)
		})
	}
}

func TestMarshalRejectsMalformedEnvelope(t *testing.T) {
	_, err := Marshal(nil)
	require.Error(t, err)

	e := buildTestEnvelope(t)
	e.Salt = nil
	_, err = Marshal(e)
	require.Error(t, err)
}

func TestEncryptedEnvelopeSurvivesSerialization(t *testing.T) {
	key := generateTestKey(t)
	encryptor, err := NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	decryptor, err := NewDecryptor(key)
	require.NoError(t, err)

	plaintext := []byte("serialize me")
	e, err := encryptor.Encrypt(plaintext)
	require.NoError(t, err)

	data, err := Marshal(e)
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	decrypted, err := decryptor.Decrypt(parsed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}
