package secrets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Record file names are part of the interchange surface and must not change.
const (
	databaseKeyFile   = "databasesecret.txt"
	attachmentKeyFile = "attachmentsecret.txt"
	logKeyFile        = "logsecret.txt"
	backupKeyFile     = "backupkey.txt"
)

// ExportBundle writes each present bundle field as its own text record in
// destDir, creating the directory if needed. The records are plaintext;
// the caller must secure-erase destDir once the archive step consumed it.
func ExportBundle(bundle *Bundle, destDir string) error {
	if !bundle.Valid() {
		return fmt.Errorf("%w: bundle is missing foundational keys", ErrSecretParse)
	}
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return err
	}
	if err := writeRecord(filepath.Join(destDir, databaseKeyFile), bundle.DatabaseKey.String()); err != nil {
		return err
	}
	if err := writeRecord(filepath.Join(destDir, attachmentKeyFile), bundle.AttachmentKey.Serialize()); err != nil {
		return err
	}
	if len(bundle.LogKey) > 0 {
		encoded := base64.StdEncoding.EncodeToString(bundle.LogKey)
		if err := writeRecord(filepath.Join(destDir, logKeyFile), encoded); err != nil {
			return err
		}
	}
	if bundle.BackupPassphrase != nil {
		if err := writeRecord(filepath.Join(destDir, backupKeyFile), *bundle.BackupPassphrase); err != nil {
			return err
		}
	}
	return nil
}

// ImportBundle reads whichever record files exist in srcDir. Absent files
// leave the field nil; that is normal for the passphrase record. A
// malformed database or attachment record fails with ErrSecretParse
// because a silently degraded bundle would orphan the restored store.
func ImportBundle(srcDir string) (*Bundle, error) {
	bundle := &Bundle{}

	if record, ok, err := readRecord(filepath.Join(srcDir, databaseKeyFile)); err != nil {
		return nil, err
	} else if ok {
		key, err := ParseDatabaseKey(record)
		if err != nil {
			return nil, err
		}
		bundle.DatabaseKey = key
	}

	if record, ok, err := readRecord(filepath.Join(srcDir, attachmentKeyFile)); err != nil {
		return nil, err
	} else if ok {
		key, err := ParseAttachmentKey(record)
		if err != nil {
			return nil, err
		}
		bundle.AttachmentKey = key
	}

	if record, ok, err := readRecord(filepath.Join(srcDir, logKeyFile)); err != nil {
		return nil, err
	} else if ok {
		raw, err := base64.StdEncoding.DecodeString(record)
		if err != nil {
			return nil, fmt.Errorf("%w: log key is not valid base64", ErrSecretParse)
		}
		bundle.LogKey = raw
	}

	if record, ok, err := readRecord(filepath.Join(srcDir, backupKeyFile)); err != nil {
		return nil, err
	} else if ok {
		passphrase := record
		bundle.BackupPassphrase = &passphrase
	}

	return bundle, nil
}

func writeRecord(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o600)
}

// readRecord returns the first line of the file, reporting ok=false when
// the file does not exist.
func readRecord(path string) (string, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	return strings.TrimRight(line, "\r"), true, nil
}
