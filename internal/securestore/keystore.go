package securestore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileKeystore keeps the sealing root key in a file readable only by the
// owning user. It stands in for an OS keystore on platforms that lack one
// but still want sealed settings entries to survive process restarts.
type FileKeystore struct {
	path string
}

func NewFileKeystore(dataDir string) *FileKeystore {
	return &FileKeystore{path: filepath.Join(dataDir, "sealing.key")}
}

// Key returns the root key, generating and persisting 32 random bytes on
// first use.
func (k *FileKeystore) Key() ([]byte, error) {
	raw, err := os.ReadFile(k.path)
	if err == nil {
		key, decodeErr := base64.RawStdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if decodeErr != nil || len(key) == 0 {
			return nil, ErrSealedBlob
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return nil, err
	}
	encoded := base64.RawStdEncoding.EncodeToString(key)
	if err := os.WriteFile(k.path, []byte(encoded), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
