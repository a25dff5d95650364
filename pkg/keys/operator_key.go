// Package keys encrypts the operator account key at rest.
// The stored form is base64(nonce || ciphertext || tag) under AES-256-GCM with
// a key derived from the master key through HKDF-SHA256.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/hashgraph/mass-payout/pkg/config"
)

const (
	masterKeySize = 32
	// operatorKeyInfo binds derived keys to this use of the master key.
	operatorKeyInfo = "mass-payout-operator-key-v1"
)

// LoadOperatorKey decrypts the configured operator key with the master key
// read from the environment variable named in the config.
func LoadOperatorKey(cfg *config.HederaConfig) (*ecdsa.PrivateKey, error) {
	if cfg.OperatorKey == "" {
		return nil, fmt.Errorf("hedera.operator_key is not set")
	}
	encoded := os.Getenv(cfg.MasterKeyEnv)
	if encoded == "" {
		return nil, fmt.Errorf("master key environment variable %s is not set", cfg.MasterKeyEnv)
	}
	masterKey, err := MasterKeyFromBase64(encoded)
	if err != nil {
		return nil, err
	}
	return DecryptOperatorKey(cfg.OperatorKey, masterKey)
}

// EncryptOperatorKey encrypts an ECDSA private key for storage in the config file.
func EncryptOperatorKey(privateKey *ecdsa.PrivateKey, masterKey []byte) (string, error) {
	gcm, err := newGCM(masterKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, crypto.FromECDSA(privateKey), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptOperatorKey reverses EncryptOperatorKey.
func DecryptOperatorKey(encrypted string, masterKey []byte) (*ecdsa.PrivateKey, error) {
	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	privateKey, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("decrypted value is not a secp256k1 private key: %w", err)
	}
	return privateKey, nil
}

func newGCM(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != masterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes (AES-256)", masterKeySize)
	}

	derived := make([]byte, masterKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(operatorKeyInfo)), derived); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateMasterKey generates a new random 32-byte master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromBase64 decodes a base64-encoded master key
func MasterKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", masterKeySize, len(key))
	}
	return key, nil
}

// MasterKeyToBase64 encodes a master key as base64 for storage
func MasterKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
