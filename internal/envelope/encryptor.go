package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Encryptor produces envelopes for a single recipient public key. It is safe
// for concurrent use.
type Encryptor struct {
	recipient *rsa.PublicKey
}

// NewEncryptor creates a new Encryptor with the provided RSA public key.
// The RSA key must be at least minRSAKeySize bits.
func NewEncryptor(recipient *rsa.PublicKey) (*Encryptor, error) {
	if recipient == nil {
		return nil, &KeyError{Reason: "RSA public key cannot be nil"}
	}

	if keySize := recipient.N.BitLen(); keySize < minRSAKeySize {
		return nil, &KeyError{Reason: fmt.Sprintf("RSA key size must be at least %d bits, got %d bits", minRSAKeySize, keySize)}
	}

	return &Encryptor{recipient: recipient}, nil
}

// Encrypt performs hybrid encryption on the provided data.
// It generates a random content secret and a fresh salt, derives an AES-256
// key with argon2id, seals the data with AES-256-GCM under a fresh nonce,
// then wraps the content secret with RSA-OAEP-SHA256.
func (e *Encryptor) Encrypt(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data to encrypt cannot be empty")
	}

	secret := make([]byte, contentSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate content secret: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, data, nil)

	// gcm.Seal appends the tag to the ciphertext; the envelope carries them
	// as separate fields.
	split := len(sealed) - tagSize

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, e.recipient, secret, nil)
	if err != nil {
		return nil, &KeyError{Reason: "failed to wrap content secret", Err: err}
	}

	return &Envelope{
		Version:    FormatVersion,
		Salt:       salt,
		Nonce:      nonce,
		WrappedKey: wrapped,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// newGCM derives the AES-256 key for the given secret and salt and returns
// the AEAD to seal or open with.
func newGCM(secret, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, aesKeySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return gcm, nil
}
