package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func makeSources(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	secretDir := filepath.Join(base, "secrets")
	treeDir := filepath.Join(base, "tree")
	writeTestFile(t, filepath.Join(secretDir, "databasesecret.txt"), "deadbeef")
	writeTestFile(t, filepath.Join(treeDir, "databases", "messages.db"), "sqlite bytes")
	writeTestFile(t, filepath.Join(treeDir, "shared_prefs", "settings.json"), "{}")
	return secretDir, treeDir
}

func TestPackUnpackRoundTripEncrypted(t *testing.T) {
	secretDir, treeDir := makeSources(t)
	archivePath := filepath.Join(t.TempDir(), "export.bak")

	if err := Pack(secretDir, treeDir, archivePath, "open sesame"); err != nil {
		t.Fatalf("pack: %v", err)
	}
	dest := t.TempDir()
	if err := Unpack(archivePath, dest, "open sesame"); err != nil {
		t.Fatalf("unpack: %v", err)
	}

	if got := readTestFile(t, filepath.Join(SecretDir(dest), "databasesecret.txt")); got != "deadbeef" {
		t.Fatalf("secret content = %q", got)
	}
	if got := readTestFile(t, filepath.Join(TreeDir(dest), "databases", "messages.db")); got != "sqlite bytes" {
		t.Fatalf("tree content = %q", got)
	}
}

func TestPackUnpackRoundTripPlain(t *testing.T) {
	secretDir, treeDir := makeSources(t)
	archivePath := filepath.Join(t.TempDir(), "export.bak")

	if err := Pack(secretDir, treeDir, archivePath, ""); err != nil {
		t.Fatalf("pack: %v", err)
	}
	dest := t.TempDir()
	if err := Unpack(archivePath, dest, ""); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got := readTestFile(t, filepath.Join(TreeDir(dest), "shared_prefs", "settings.json")); got != "{}" {
		t.Fatalf("tree content = %q", got)
	}
}

func TestUnpackWrongPassword(t *testing.T) {
	secretDir, treeDir := makeSources(t)
	archivePath := filepath.Join(t.TempDir(), "export.bak")
	if err := Pack(secretDir, treeDir, archivePath, "right"); err != nil {
		t.Fatalf("pack: %v", err)
	}

	for _, password := range []string{"wrong", ""} {
		err := Unpack(archivePath, t.TempDir(), password)
		if !errors.Is(err, ErrBadPassword) {
			t.Fatalf("password %q: err = %v, want ErrBadPassword", password, err)
		}
	}
}

func TestUnpackCorruptArchive(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "export.bak")
	writeTestFile(t, archivePath, "MBAKENC1\nnot json at all")

	err := Unpack(archivePath, t.TempDir(), "any")
	if !errors.Is(err, ErrArchive) {
		t.Fatalf("err = %v, want ErrArchive", err)
	}
}

func TestPackReplacesExistingArchive(t *testing.T) {
	secretDir, treeDir := makeSources(t)
	archivePath := filepath.Join(t.TempDir(), "export.bak")
	writeTestFile(t, archivePath, "stale")

	if err := Pack(secretDir, treeDir, archivePath, ""); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := Unpack(archivePath, t.TempDir(), ""); err != nil {
		t.Fatalf("unpack of replaced archive: %v", err)
	}
}

func TestPackFileRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "messages.xml")
	writeTestFile(t, src, "<smses count=\"0\"></smses>")
	archivePath := filepath.Join(t.TempDir(), "messages.xml.gz")

	if err := PackFile(src, archivePath, "doc password"); err != nil {
		t.Fatalf("pack file: %v", err)
	}
	dest, err := UnpackFile(archivePath, t.TempDir(), "doc password")
	if err != nil {
		t.Fatalf("unpack file: %v", err)
	}
	if filepath.Base(dest) != "messages.xml" {
		t.Fatalf("extracted name = %s", filepath.Base(dest))
	}
	if got := readTestFile(t, dest); got != "<smses count=\"0\"></smses>" {
		t.Fatalf("document content = %q", got)
	}
}

func TestUnpackFileWrongPassword(t *testing.T) {
	src := filepath.Join(t.TempDir(), "messages.xml")
	writeTestFile(t, src, "doc")
	archivePath := filepath.Join(t.TempDir(), "messages.xml.gz")
	if err := PackFile(src, archivePath, "right"); err != nil {
		t.Fatalf("pack file: %v", err)
	}
	if _, err := UnpackFile(archivePath, t.TempDir(), "wrong"); !errors.Is(err, ErrBadPassword) {
		t.Fatalf("err = %v, want ErrBadPassword", err)
	}
}

func TestExportPassword(t *testing.T) {
	if got := ExportPassword(false, "one two three"); got != "" {
		t.Fatalf("disabled backups: got %q", got)
	}
	if got := ExportPassword(true, "one two three"); got != "onetwothree" {
		t.Fatalf("enabled backups: got %q", got)
	}
}
