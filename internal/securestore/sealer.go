package securestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "MBAKSEAL1:"

var ErrSealedBlob = errors.New("securestore sealed blob is invalid")

// SecretSealer wraps and unwraps secret bytes before they reach the
// settings store. The variant is selected once at startup: PlatformSealer
// when a device keystore is available, UnsealedSealer otherwise.
type SecretSealer interface {
	Seal(plaintext []byte) (string, error)
	Unseal(serialized string) ([]byte, error)
	// Sealed reports whether Seal output is actually protected.
	Sealed() bool
}

// DeviceKeystore yields the platform-protected root key used by
// PlatformSealer.
type DeviceKeystore interface {
	Key() ([]byte, error)
}

type sealedBlob struct {
	Version    uint32 `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// PlatformSealer seals secrets with a subkey derived from the device
// keystore key. Each seal uses a fresh salt, so sealing the same bytes
// twice yields different blobs.
type PlatformSealer struct {
	keystore DeviceKeystore
}

func NewPlatformSealer(keystore DeviceKeystore) *PlatformSealer {
	return &PlatformSealer{keystore: keystore}
}

func (s *PlatformSealer) Sealed() bool { return true }

func (s *PlatformSealer) Seal(plaintext []byte) (string, error) {
	rootKey, err := s.keystore.Key()
	if err != nil {
		return "", err
	}
	defer zeroBytes(rootKey)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := sealingKey(rootKey, salt)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	blob := sealedBlob{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

func (s *PlatformSealer) Unseal(serialized string) ([]byte, error) {
	if !strings.HasPrefix(serialized, sealedPrefix) {
		return nil, ErrSealedBlob
	}
	raw, err := base64.StdEncoding.DecodeString(serialized[len(sealedPrefix):])
	if err != nil {
		return nil, ErrSealedBlob
	}
	var blob sealedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, ErrSealedBlob
	}
	if blob.Version != 1 {
		return nil, ErrSealedBlob
	}
	if len(blob.Salt) != saltSize || len(blob.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrSealedBlob
	}
	rootKey, err := s.keystore.Key()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(rootKey)

	key, err := sealingKey(rootKey, blob.Salt)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// UnsealedSealer stores secrets without wrapping. This is the explicit
// capability fallback for platforms without a keystore.
type UnsealedSealer struct{}

func NewUnsealedSealer() *UnsealedSealer { return &UnsealedSealer{} }

func (s *UnsealedSealer) Sealed() bool { return false }

func (s *UnsealedSealer) Seal(plaintext []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (s *UnsealedSealer) Unseal(serialized string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return nil, ErrSealedBlob
	}
	return raw, nil
}

func sealingKey(rootKey, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, rootKey, salt, []byte("mercury-secret-sealing"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
