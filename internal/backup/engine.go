// Package backup orchestrates full-device export/import, plaintext message
// export/import and foreign store import over the underlying codecs.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mercury-chat/backup-engine/internal/archive"
	"mercury-chat/backup-engine/internal/config"
	"mercury-chat/backup-engine/internal/foreign"
	"mercury-chat/backup-engine/internal/interchange"
	"mercury-chat/backup-engine/internal/mirror"
	"mercury-chat/backup-engine/internal/prefs"
	"mercury-chat/backup-engine/internal/progress"
	"mercury-chat/backup-engine/internal/secrets"
	"mercury-chat/backup-engine/internal/securestore"
	"mercury-chat/backup-engine/internal/storage"
	"mercury-chat/backup-engine/pkg/models"
)

var ErrNoExternalStorage = errors.New("backup: export root unavailable")

// Outcome is the deliberately coarse caller-facing result of an operation.
type Outcome int

const (
	Success Outcome = iota
	NoStorage
	IOErr
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NoStorage:
		return "no-storage"
	case IOErr:
		return "io-error"
	}
	return "unknown"
}

// Engine ties the codecs to one data directory, live store and settings
// snapshot. Callers serialize operations; concurrent runs against the same
// live store are unsupported.
type Engine struct {
	Config   config.Config
	Store    *storage.Store
	Settings *prefs.Store
	Sealer   securestore.SecretSealer
}

func NewEngine(cfg config.Config, store *storage.Store, settings *prefs.Store, sealer securestore.SecretSealer) *Engine {
	return &Engine{Config: cfg, Store: store, Settings: settings, Sealer: sealer}
}

// outcomeOf collapses any internal failure to the coarse contract.
func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrNoExternalStorage):
		return NoStorage
	default:
		return IOErr
	}
}

// checkExportRoot verifies the export root exists and is writable.
func (e *Engine) checkExportRoot() error {
	root := e.Config.ExportRoot
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrNoExternalStorage, err)
	}
	probe := filepath.Join(root, ".write-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrNoExternalStorage, err)
	}
	os.Remove(probe)
	return nil
}

// ExportFull runs the complete export: secret bundle + tree mirror, packed
// into one archive, staging plaintext erased afterwards.
func (e *Engine) ExportFull(ctx context.Context) (Outcome, error) {
	err := e.exportFull(ctx)
	if err != nil {
		slog.Error("full export failed", "err", err)
	}
	return outcomeOf(err), err
}

func (e *Engine) exportFull(ctx context.Context) error {
	if err := e.checkExportRoot(); err != nil {
		return err
	}
	bundle, err := secrets.CollectBundle(ctx, e.Sealer, e.Settings)
	if err != nil {
		return err
	}

	staging := filepath.Join(e.Config.ExportRoot, ".staging-full")
	secretDir := filepath.Join(staging, "secrets")
	treeDir := filepath.Join(staging, "tree")
	defer mirror.SecureDeleteRecursive(staging)

	if err := secrets.ExportBundle(bundle, secretDir); err != nil {
		return err
	}
	if err := mirror.ExportTree(e.Config.DataDir, treeDir, mirror.DefaultDenyList); err != nil {
		return err
	}

	password := e.exportPassword(bundle)
	archivePath := filepath.Join(e.Config.ExportRoot, e.Config.ArchiveName)
	if err := archive.Pack(secretDir, treeDir, archivePath, password); err != nil {
		return err
	}
	slog.Info("full export complete", "archive", archivePath, "encrypted", password != "")
	return nil
}

func (e *Engine) exportPassword(bundle *secrets.Bundle) string {
	passphrase := ""
	if bundle.BackupPassphrase != nil {
		passphrase = *bundle.BackupPassphrase
	}
	return archive.ExportPassword(e.Settings.GetBool(secrets.KeyBackupEnabled, false), passphrase)
}

// ImportFull restores a full export archive: secrets are parsed and
// validated before any live state is touched, then the tree and settings are
// replaced wholesale and the bundle applied.
func (e *Engine) ImportFull(ctx context.Context, archivePath, password string) (Outcome, error) {
	err := e.importFull(ctx, archivePath, password)
	if err != nil {
		slog.Error("full import failed", "err", err)
	}
	return outcomeOf(err), err
}

func (e *Engine) importFull(ctx context.Context, archivePath, password string) error {
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("%w: %v", ErrNoExternalStorage, err)
	}

	staging := filepath.Join(e.Config.DataDir, ".staging-import")
	defer mirror.SecureDeleteRecursive(staging)

	if err := archive.Unpack(archivePath, staging, password); err != nil {
		return err
	}

	// Foundational secrets are parsed first; a malformed record aborts
	// before the tree or settings change.
	bundle, err := secrets.ImportBundle(archive.SecretDir(staging))
	if err != nil {
		return err
	}
	if !bundle.Valid() {
		return fmt.Errorf("%w: archive bundle is missing foundational keys", secrets.ErrSecretParse)
	}

	if err := mirror.ImportTree(archive.TreeDir(staging), e.Config.DataDir); err != nil {
		return err
	}
	if err := e.replaceSettings(); err != nil {
		return err
	}
	if err := secrets.Apply(ctx, bundle, e.Sealer, e.Settings); err != nil {
		return err
	}
	slog.Info("full import complete", "archive", archivePath)
	return nil
}

// replaceSettings overwrites the live settings wholesale from the restored
// tree's snapshot file. Clear-then-copy, never a per-key merge.
func (e *Engine) replaceSettings() error {
	imported, err := prefs.NewStore(SettingsPath(e.Config.DataDir))
	if err != nil {
		return err
	}
	return e.Settings.ReplaceAll(imported.GetAll())
}

// SettingsPath locates the settings snapshot inside a data directory.
func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, "shared_prefs", "settings.json")
}

// ExportPlaintext writes the whole message table as an interchange document
// under the export root, optionally wrapped in a password-protected archive.
func (e *Engine) ExportPlaintext(ctx context.Context) (Outcome, error) {
	err := e.exportPlaintext(ctx)
	if err != nil {
		slog.Error("plaintext export failed", "err", err)
	}
	return outcomeOf(err), err
}

func (e *Engine) exportPlaintext(ctx context.Context) error {
	if err := e.checkExportRoot(); err != nil {
		return err
	}
	docPath := filepath.Join(e.Config.ExportRoot, e.Config.PlaintextName)
	f, err := os.OpenFile(docPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	exporter := interchange.NewExporter(e.Store)
	exporter.Progress = progress.NewCounter("plaintext_export", nil)
	written, err := exporter.Export(ctx, f)
	exporter.Progress.Flush()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if e.Config.ArchivePlaintext {
		bundle, err := secrets.CollectBundle(ctx, e.Sealer, e.Settings)
		if err != nil {
			return err
		}
		archived := docPath + ".bak"
		if err := archive.PackFile(docPath, archived, e.exportPassword(bundle)); err != nil {
			return err
		}
		if err := mirror.SecureDelete(docPath); err != nil {
			return err
		}
		slog.Info("plaintext export complete", "archive", archived, "items", written)
		return nil
	}
	slog.Info("plaintext export complete", "document", docPath, "items", written)
	return nil
}

// ImportPlaintext replays an interchange document (raw or archived) into the
// live store.
func (e *Engine) ImportPlaintext(ctx context.Context, path, password string) (Outcome, error) {
	err := e.importPlaintext(ctx, path, password)
	if err != nil {
		slog.Error("plaintext import failed", "err", err)
	}
	return outcomeOf(err), err
}

func (e *Engine) importPlaintext(ctx context.Context, path, password string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrNoExternalStorage, err)
	}
	docPath := path
	if filepath.Ext(path) == ".bak" {
		unpacked := filepath.Join(e.Config.DataDir, ".staging-plaintext")
		defer mirror.SecureDeleteRecursive(unpacked)
		extracted, err := archive.UnpackFile(path, unpacked, password)
		if err != nil {
			return err
		}
		docPath = extracted
	}

	f, err := os.Open(docPath)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := interchange.NewImporter(e.Store).Import(ctx, f)
	if err != nil {
		return err
	}
	slog.Info("plaintext import complete", "inserted", res.Inserted, "threads", res.Threads)
	return nil
}

// ImportForeign replays the configured foreign store into the live store.
func (e *Engine) ImportForeign(ctx context.Context, policy models.ImportPolicy, callback progress.Callback) (Outcome, error) {
	res, err := foreign.NewImporter(e.Store).Run(ctx, e.Config.ForeignStorePath, policy, callback)
	if err != nil {
		slog.Error("foreign import failed", "err", err)
		return outcomeOf(err), err
	}
	slog.Info("foreign import finished",
		"processed", res.Processed, "inserted", res.Inserted, "discarded", res.Discarded)
	return Success, nil
}
