package mirror

import (
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
)

// SecureDelete overwrites a file with random bytes before deleting it.
// Not perfect on wear-leveling flash, but better than a bare unlink.
func SecureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	buf := make([]byte, 64)
	for pos := int64(0); pos < info.Size(); pos += int64(len(buf)) {
		if _, err := rand.Read(buf); err != nil {
			f.Close()
			return err
		}
		if _, err := f.WriteAt(buf, pos); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// SecureDeleteRecursive overwrite-deletes every file under the path, then
// removes the directories. Errors on individual entries are logged and do
// not stop the sweep.
func SecureDeleteRecursive(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			slog.Warn("secure delete cannot enumerate directory", "dir", path, "err", err)
			return
		}
		for _, entry := range entries {
			SecureDeleteRecursive(filepath.Join(path, entry.Name()))
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("secure delete cannot remove directory", "dir", path, "err", err)
		}
		return
	}
	if err := SecureDelete(path); err != nil {
		slog.Warn("secure delete failed", "file", path, "err", err)
	}
}

// DeleteRecursive removes a tree without overwriting. Used for data that
// was never plaintext-sensitive.
func DeleteRecursive(path string) {
	if err := os.RemoveAll(path); err != nil {
		slog.Warn("delete failed", "path", path, "err", err)
	}
}
