// Package archive packs the exported secret bundle and mirrored tree into a
// single portable file, optionally encrypted with a password.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mercury-chat/backup-engine/internal/securestore"
)

var (
	ErrBadPassword = errors.New("archive: wrong password")
	ErrArchive     = errors.New("archive: corrupt or unreadable archive")
)

const (
	secretsPrefix = "secrets"
	treePrefix    = "tree"
)

// Pack writes secretDir and treeDir into a single archive file. With a
// non-empty password the tar stream is stored uncompressed and encrypted as a
// whole; with an empty password the archive is a plain tar. An existing file
// at archivePath is replaced.
func Pack(secretDir, treeDir, archivePath, password string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := addTree(tw, secretDir, secretsPrefix); err != nil {
		return err
	}
	if err := addTree(tw, treeDir, treePrefix); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	data := buf.Bytes()
	if password != "" {
		enc, err := securestore.Encrypt(password, data)
		if err != nil {
			return err
		}
		data = enc
	}

	if err := os.WriteFile(archivePath, data, 0o600); err != nil {
		return err
	}
	slog.Info("archive packed",
		"path", archivePath, "bytes", len(data), "encrypted", password != "")
	return nil
}

// Unpack extracts an archive produced by Pack into destRoot, creating
// destRoot/secrets and destRoot/tree. Encryption is detected from the file
// itself; an encrypted archive with a wrong or empty password yields
// ErrBadPassword.
func Unpack(archivePath, destRoot, password string) error {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return err
	}
	data, err = maybeDecrypt(data, password)
	if err != nil {
		return err
	}
	if err := extract(tar.NewReader(bytes.NewReader(data)), destRoot); err != nil {
		return err
	}
	slog.Info("archive unpacked", "path", archivePath, "dest", destRoot)
	return nil
}

// SecretDir and TreeDir locate the two halves of an unpacked archive.
func SecretDir(destRoot string) string { return filepath.Join(destRoot, secretsPrefix) }
func TreeDir(destRoot string) string   { return filepath.Join(destRoot, treePrefix) }

// PackFile wraps a single document in a gzip-compressed tar, optionally
// encrypted. Used for the plaintext message document, where compression is
// allowed.
func PackFile(srcPath, archivePath, password string) error {
	payload, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{
		Name: filepath.Base(srcPath),
		Mode: 0o600,
		Size: int64(len(payload)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(payload); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	data := buf.Bytes()
	if password != "" {
		enc, err := securestore.Encrypt(password, data)
		if err != nil {
			return err
		}
		data = enc
	}
	return os.WriteFile(archivePath, data, 0o600)
}

// UnpackFile extracts the single document from an archive written by PackFile
// and returns the path it was written to under destDir.
func UnpackFile(archivePath, destDir, password string) (string, error) {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return "", err
	}
	data, err = maybeDecrypt(data, password)
	if err != nil {
		return "", err
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchive, err)
	}
	name := filepath.Base(filepath.Clean(hdr.Name))
	if name == "." || name == string(filepath.Separator) {
		return "", ErrArchive
	}
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, name)
	payload, err := io.ReadAll(tr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchive, err)
	}
	if err := os.WriteFile(dest, payload, 0o600); err != nil {
		return "", err
	}
	return dest, nil
}

func maybeDecrypt(data []byte, password string) ([]byte, error) {
	if !securestore.IsEnvelope(data) {
		return data, nil
	}
	plain, err := securestore.Decrypt(password, data)
	switch {
	case errors.Is(err, securestore.ErrAuthFailed):
		return nil, ErrBadPassword
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return plain, nil
}

func addTree(tw *tar.Writer, root, prefix string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		slog.Warn("archive source missing, skipping", "dir", root)
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: prefix + "/" + filepath.ToSlash(rel),
			Mode: 0o600,
			Size: int64(len(payload)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(payload)
		return err
	})
}

func extract(tr *tar.Reader, destRoot string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.FromSlash(hdr.Name)
		if filepath.IsAbs(name) || strings.Contains(name, "..") {
			return fmt.Errorf("%w: unsafe entry %q", ErrArchive, hdr.Name)
		}
		dest := filepath.Join(destRoot, name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return err
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArchive, err)
		}
		if err := os.WriteFile(dest, payload, 0o600); err != nil {
			return err
		}
	}
}
