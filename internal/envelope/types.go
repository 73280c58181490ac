// Package envelope implements the hybrid encryption scheme used to protect
// workload packages in transit and at rest in the Atlas Explorer cloud.
//
// Each encryption operation generates a fresh content secret, derives an
// AES-256 key from it with argon2id and a fresh random salt, seals the
// plaintext with AES-256-GCM under a fresh nonce, and wraps the content
// secret with RSA-OAEP-SHA256 for the recipient. No key material, salt or
// nonce is ever reused across envelopes.
package envelope

import "fmt"

const (
	// FormatVersion is the envelope wire format version produced by this
	// package. Parse rejects any other version.
	FormatVersion byte = 1

	// saltSize is the size of the argon2id salt in bytes. A fresh salt is
	// drawn for every encryption call; a fixed or reused salt would collapse
	// the derived key to a predictable value.
	saltSize = 32

	// nonceSize is the size of the AES-GCM nonce in bytes. A new content key
	// is generated for each encryption operation, so random nonces of the
	// standard size are safe here.
	nonceSize = 12

	// tagSize is the size of the AES-GCM authentication tag in bytes.
	tagSize = 16

	// contentSecretSize is the size of the per-envelope content secret that
	// gets wrapped for the recipient.
	contentSecretSize = 32

	// aesKeySize is the size of the derived AES-256 key in bytes.
	aesKeySize = 32

	// minRSAKeySize is the minimum RSA key size in bits; we'd expect that
	// keys will be larger but 2048 is a sane floor.
	minRSAKeySize = 2048
)

// argon2id parameters for deriving the AES key from the content secret.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// Envelope is the encrypted payload format. All byte fields are owned by the
// envelope; callers must not mutate them after construction.
type Envelope struct {
	// Version is the wire format version, always FormatVersion for envelopes
	// produced by this package.
	Version byte
	// Salt is the fresh per-envelope argon2id salt.
	Salt []byte
	// Nonce is the fresh per-envelope AES-GCM nonce.
	Nonce []byte
	// WrappedKey is the content secret encrypted with RSA-OAEP-SHA256 for
	// the recipient.
	WrappedKey []byte
	// Ciphertext is the AES-256-GCM ciphertext, without the tag.
	Ciphertext []byte
	// Tag is the AES-GCM authentication tag.
	Tag []byte
}

// validate checks the structural invariants of an envelope before use.
func (e *Envelope) validate() error {
	if e.Version != FormatVersion {
		return &FormatError{Reason: fmt.Sprintf("unsupported envelope version %d", e.Version)}
	}
	if len(e.Salt) != saltSize {
		return &IntegrityError{Reason: fmt.Sprintf("salt must be %d bytes, got %d", saltSize, len(e.Salt))}
	}
	if len(e.Nonce) != nonceSize {
		return &IntegrityError{Reason: fmt.Sprintf("nonce must be %d bytes, got %d", nonceSize, len(e.Nonce))}
	}
	if len(e.WrappedKey) == 0 {
		return &IntegrityError{Reason: "wrapped key is empty"}
	}
	if len(e.Ciphertext) == 0 {
		return &IntegrityError{Reason: "ciphertext is empty"}
	}
	if len(e.Tag) != tagSize {
		return &IntegrityError{Reason: fmt.Sprintf("tag must be %d bytes, got %d", tagSize, len(e.Tag))}
	}
	return nil
}

// KeyError indicates malformed or incompatible key material. It is fatal and
// never retried.
type KeyError struct {
	Reason string
	Err    error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key error: %s: %v", e.Reason, e.Err)
	}
	return "key error: " + e.Reason
}

func (e *KeyError) Unwrap() error { return e.Err }

// IntegrityError indicates an authentication tag mismatch or a truncated
// envelope. It signals tampering or corruption and is never silently ignored.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return "integrity error: " + e.Reason }

// FormatError indicates a malformed serialized envelope.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "format error: " + e.Reason }
