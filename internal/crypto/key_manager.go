package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrMasterKeyNotSet  = errors.New("master key not set in environment")
	ErrInvalidMasterKey = errors.New("invalid master key: must be base64 of 32 bytes")
)

const keyInfo = "crisis-engine text entries v1"

// KeyManager derives one data key per subject from the master key, so a
// leaked subject key exposes only that subject's text.
type KeyManager struct {
	masterKey []byte

	mu   sync.RWMutex
	keys map[string][]byte // subject -> derived key
}

// NewKeyManager reads the base64 master key from the environment
// variable envVar.
func NewKeyManager(envVar string) (*KeyManager, error) {
	encoded := os.Getenv(envVar)
	if encoded == "" {
		return nil, fmt.Errorf("%w: %s", ErrMasterKeyNotSet, envVar)
	}
	masterKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(masterKey) != 32 {
		return nil, ErrInvalidMasterKey
	}
	return NewKeyManagerFromKey(masterKey)
}

// NewKeyManagerFromKey uses masterKey directly.
func NewKeyManagerFromKey(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidMasterKey
	}
	return &KeyManager{
		masterKey: append([]byte(nil), masterKey...),
		keys:      make(map[string][]byte),
	}, nil
}

// SubjectKey returns the data key of a subject, deriving and caching it
// on first use.
func (km *KeyManager) SubjectKey(subjectID string) ([]byte, error) {
	km.mu.RLock()
	key, ok := km.keys[subjectID]
	km.mu.RUnlock()
	if ok {
		return key, nil
	}

	key = make([]byte, 32)
	r := hkdf.New(sha256.New, km.masterKey, []byte(subjectID), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive subject key: %w", err)
	}

	km.mu.Lock()
	km.keys[subjectID] = key
	km.mu.Unlock()
	return key, nil
}

// EncryptText encrypts a text entry for a subject. The ciphertext only
// opens under the same subject.
func (km *KeyManager) EncryptText(subjectID, plaintext string) (string, error) {
	key, err := km.SubjectKey(subjectID)
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, key, []byte(subjectID))
}

// DecryptText reverses EncryptText.
func (km *KeyManager) DecryptText(subjectID, ciphertext string) (string, error) {
	key, err := km.SubjectKey(subjectID)
	if err != nil {
		return "", err
	}
	return Decrypt(ciphertext, key, []byte(subjectID))
}
