// Package secrets handles the bundle of key material protecting the live
// store: database key, attachment key, log key and the optional backup
// passphrase. The bundle only ever exists inside one export or import call.
package secrets

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrSecretParse = errors.New("secret record is malformed")

const databaseKeySize = 32

// DatabaseKey is the key protecting the live database. Its canonical
// interchange form is lowercase hex.
type DatabaseKey struct {
	key []byte
}

func NewDatabaseKey(key []byte) (*DatabaseKey, error) {
	if len(key) != databaseKeySize {
		return nil, fmt.Errorf("%w: database key must be %d bytes, got %d", ErrSecretParse, databaseKeySize, len(key))
	}
	return &DatabaseKey{key: append([]byte(nil), key...)}, nil
}

func ParseDatabaseKey(encoded string) (*DatabaseKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: database key is not valid hex", ErrSecretParse)
	}
	return NewDatabaseKey(raw)
}

func (k *DatabaseKey) String() string { return hex.EncodeToString(k.key) }

func (k *DatabaseKey) Bytes() []byte { return append([]byte(nil), k.key...) }

// AttachmentKey protects attachment blobs. The structured form carries the
// legacy cipher/mac pair alongside the modern key, serialized as JSON.
type AttachmentKey struct {
	ClassicCipherKey []byte `json:"classicCipherKey,omitempty"`
	ClassicMacKey    []byte `json:"classicMacKey,omitempty"`
	ModernKey        []byte `json:"modernKey,omitempty"`
}

func ParseAttachmentKey(serialized string) (*AttachmentKey, error) {
	var key AttachmentKey
	if err := json.Unmarshal([]byte(serialized), &key); err != nil {
		return nil, fmt.Errorf("%w: attachment key is not valid JSON", ErrSecretParse)
	}
	if len(key.ModernKey) == 0 && len(key.ClassicCipherKey) == 0 {
		return nil, fmt.Errorf("%w: attachment key carries no key material", ErrSecretParse)
	}
	return &key, nil
}

func (k *AttachmentKey) Serialize() string {
	raw, err := json.Marshal(k)
	if err != nil {
		// All fields are byte slices; marshalling cannot fail.
		panic(err)
	}
	return string(raw)
}

// Bundle is the full secret set of one export or import call. Nil fields
// are absent. BackupPassphrase is nil when standard backups were disabled
// at export time.
type Bundle struct {
	DatabaseKey      *DatabaseKey
	AttachmentKey    *AttachmentKey
	LogKey           []byte
	BackupPassphrase *string
}

// Valid reports whether the bundle can fully restore a live store. The
// database and attachment keys are foundational; the log key and the
// passphrase are optional.
func (b *Bundle) Valid() bool {
	return b != nil && b.DatabaseKey != nil && b.AttachmentKey != nil
}
