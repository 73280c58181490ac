package envelope

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadPublicKey parses an RSA public key from PEM-encoded bytes.
// The PEM block must be of type "PUBLIC KEY" or "RSA PUBLIC KEY".
func LoadPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &KeyError{Reason: "failed to decode PEM block"}
	}

	switch block.Type {
	case "PUBLIC KEY":
		pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, &KeyError{Reason: "failed to parse PKIX public key", Err: err}
		}

		rsaKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, &KeyError{Reason: fmt.Sprintf("key is not an RSA public key, got %T", pubKey)}
		}

		return rsaKey, nil

	case "RSA PUBLIC KEY":
		rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, &KeyError{Reason: "failed to parse PKCS1 RSA public key", Err: err}
		}

		return rsaKey, nil
	}

	return nil, &KeyError{Reason: fmt.Sprintf("unsupported PEM block type: %s (expected PUBLIC KEY or RSA PUBLIC KEY)", block.Type)}
}

// LoadPublicKeyFile reads and parses an RSA public key from a PEM file.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PEM file: %w", err)
	}

	return LoadPublicKey(pemBytes)
}

// LoadPrivateKey parses an RSA private key from PEM-encoded bytes.
// The PEM block must be of type "PRIVATE KEY" or "RSA PRIVATE KEY".
func LoadPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &KeyError{Reason: "failed to decode PEM block"}
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &KeyError{Reason: "failed to parse PKCS8 private key", Err: err}
		}

		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, &KeyError{Reason: fmt.Sprintf("key is not an RSA private key, got %T", key)}
		}

		return rsaKey, nil

	case "RSA PRIVATE KEY":
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, &KeyError{Reason: "failed to parse PKCS1 RSA private key", Err: err}
		}

		return rsaKey, nil
	}

	return nil, &KeyError{Reason: fmt.Sprintf("unsupported PEM block type: %s (expected PRIVATE KEY or RSA PRIVATE KEY)", block.Type)}
}

// LoadPrivateKeyFile reads and parses an RSA private key from a PEM file.
func LoadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PEM file: %w", err)
	}

	return LoadPrivateKey(pemBytes)
}

// MarshalPublicKey encodes an RSA public key as a PKIX "PUBLIC KEY" PEM
// block, the format the gateway expects in create-experiment requests.
func MarshalPublicKey(key *rsa.PublicKey) (string, error) {
	if key == nil {
		return "", &KeyError{Reason: "RSA public key cannot be nil"}
	}

	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", &KeyError{Reason: "failed to marshal public key", Err: err}
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
