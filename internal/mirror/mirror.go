// Package mirror copies the application's private data tree to and from an
// export root, and provides the secure-erase primitives used after any step
// that produced transient plaintext.
//
// Mirroring is not transactional: a crash mid-copy leaves a partially
// populated tree. Callers get atomicity only from the archive step that
// wraps the mirrored tree.
package mirror

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Subtrees never mirrored: runtime caches and native code that is
// meaningless on another device.
var skippedSubtrees = map[string]struct{}{
	"lib":        {},
	"code_cache": {},
	"cache":      {},
}

// DefaultDenyList names native binary artifacts that must never travel
// across devices.
var DefaultDenyList = []string{
	"libaesgcm.so",
	"libconscrypt_jni.so",
	"libnative-utils.so",
	"libringrtc.so",
	"libringrtc_rffi.so",
	"libargon2.so",
	"libsqlcipher.so",
}

// ExportTree mirrors srcRoot into destRoot, skipping the fixed cache/lib
// subtrees and any file whose name is on the deny list.
func ExportTree(srcRoot, destRoot string, denyList []string) error {
	denied := make(map[string]struct{}, len(denyList))
	for _, name := range denyList {
		denied[name] = struct{}{}
	}
	return exportDir(srcRoot, destRoot, "", denied)
}

func exportDir(srcRoot, destRoot, rel string, denied map[string]struct{}) error {
	if rel != "" {
		if _, skip := skippedSubtrees[rel]; skip {
			return nil
		}
	}
	srcDir := filepath.Join(srcRoot, rel)
	if _, err := os.Stat(srcDir); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("export source directory missing", "dir", srcDir)
			return nil
		}
		return err
	}
	destDir := filepath.Join(destRoot, rel)
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("cannot enumerate %s: %w", srcDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if err := exportDir(srcRoot, destRoot, filepath.Join(rel, name), denied); err != nil {
				return err
			}
			continue
		}
		if _, deny := denied[name]; deny {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// ImportTree mirrors srcRoot back into destRoot. No deny list: the
// exporter already excluded everything unwanted.
func ImportTree(srcRoot, destRoot string) error {
	info, err := os.Stat(srcRoot)
	if err != nil || !info.IsDir() {
		// Nothing to import; mirrors the exporter's tolerance for a
		// missing source.
		slog.Warn("import source directory missing", "dir", srcRoot)
		return nil
	}
	return importDir(srcRoot, destRoot, "")
}

func importDir(srcRoot, destRoot, rel string) error {
	srcDir := filepath.Join(srcRoot, rel)
	destDir := filepath.Join(destRoot, rel)
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("cannot enumerate %s: %w", srcDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if err := importDir(srcRoot, destRoot, filepath.Join(rel, name)); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
