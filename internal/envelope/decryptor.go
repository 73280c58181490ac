package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Decryptor opens envelopes addressed to a single RSA private key. It is safe
// for concurrent use.
type Decryptor struct {
	key *rsa.PrivateKey
}

// NewDecryptor creates a new Decryptor with the provided RSA private key.
func NewDecryptor(key *rsa.PrivateKey) (*Decryptor, error) {
	if key == nil {
		return nil, &KeyError{Reason: "RSA private key cannot be nil"}
	}

	if keySize := key.N.BitLen(); keySize < minRSAKeySize {
		return nil, &KeyError{Reason: fmt.Sprintf("RSA key size must be at least %d bits, got %d bits", minRSAKeySize, keySize)}
	}

	return &Decryptor{key: key}, nil
}

// Decrypt opens the envelope and returns the plaintext. The authentication
// tag is verified before any plaintext is returned; on any verification
// failure no partial plaintext is exposed.
func (d *Decryptor) Decrypt(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, &IntegrityError{Reason: "envelope is nil"}
	}
	if err := e.validate(); err != nil {
		return nil, err
	}

	secret, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, d.key, e.WrappedKey, nil)
	if err != nil {
		return nil, &KeyError{Reason: "failed to unwrap content secret", Err: err}
	}

	gcm, err := newGCM(secret, e.Salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(e.Ciphertext)+len(e.Tag))
	sealed = append(sealed, e.Ciphertext...)
	sealed = append(sealed, e.Tag...)

	plaintext, err := gcm.Open(nil, e.Nonce, sealed, nil)
	if err != nil {
		return nil, &IntegrityError{Reason: "authentication tag verification failed"}
	}

	return plaintext, nil
}
