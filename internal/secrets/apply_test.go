package secrets

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"mercury-chat/backup-engine/internal/prefs"
	"mercury-chat/backup-engine/internal/securestore"
)

func newSettings(t *testing.T) *prefs.Store {
	t.Helper()
	s, err := prefs.NewStore("")
	if err != nil {
		t.Fatalf("new settings failed: %v", err)
	}
	return s
}

func TestApplySealsWithPlatformSealer(t *testing.T) {
	settings := newSettings(t)
	sealer := securestore.NewPlatformSealer(securestore.NewFileKeystore(t.TempDir()))
	bundle := testBundle(t)

	if err := Apply(context.Background(), bundle, sealer, settings); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	sealed, ok := settings.GetString(KeyDatabaseSealed)
	if !ok {
		t.Fatal("sealed database slot not populated")
	}
	if _, ok := settings.GetString(KeyDatabaseUnsealed); ok {
		t.Fatal("unsealed slot must be cleared when sealing")
	}
	raw, err := sealer.Unseal(sealed)
	if err != nil {
		t.Fatalf("unseal failed: %v", err)
	}
	if !bytes.Equal(raw, bundle.DatabaseKey.Bytes()) {
		t.Fatal("sealed database key does not round trip")
	}
	if passphrase, ok := settings.GetString(KeyBackupPassphrase); !ok || passphrase != *bundle.BackupPassphrase {
		t.Fatalf("passphrase entry = %q, %v", passphrase, ok)
	}
}

func TestApplyUnsealedFallbackIsExplicit(t *testing.T) {
	settings := newSettings(t)
	bundle := testBundle(t)

	if err := Apply(context.Background(), bundle, securestore.NewUnsealedSealer(), settings); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	unsealed, ok := settings.GetString(KeyDatabaseUnsealed)
	if !ok {
		t.Fatal("unsealed database slot not populated")
	}
	if unsealed != bundle.DatabaseKey.String() {
		t.Fatalf("unsealed slot = %q, want canonical hex form", unsealed)
	}
	if _, ok := settings.GetString(KeyDatabaseSealed); ok {
		t.Fatal("sealed slot must be cleared on unsealed fallback")
	}
}

func TestApplyPartialBundleLeavesOtherEntries(t *testing.T) {
	settings := newSettings(t)
	sealer := securestore.NewUnsealedSealer()
	if err := Apply(context.Background(), testBundle(t), sealer, settings); err != nil {
		t.Fatalf("seed apply failed: %v", err)
	}
	before, _ := settings.GetString(KeyAttachmentUnsealed)

	partial := &Bundle{DatabaseKey: testBundle(t).DatabaseKey}
	if err := Apply(context.Background(), partial, sealer, settings); err != nil {
		t.Fatalf("partial apply failed: %v", err)
	}
	after, _ := settings.GetString(KeyAttachmentUnsealed)
	if before != after {
		t.Fatal("absent bundle fields must not disturb existing entries")
	}
}

func TestGetOrCreateLogSecretIdempotent(t *testing.T) {
	settings := newSettings(t)
	sealer := securestore.NewPlatformSealer(securestore.NewFileKeystore(t.TempDir()))

	first, err := GetOrCreateLogSecret(context.Background(), sealer, settings)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("log secret length = %d, want 32", len(first))
	}
	second, err := GetOrCreateLogSecret(context.Background(), sealer, settings)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("log secret must be stable once created")
	}
}

func TestCollectBundleIncludesPassphraseOnlyWhenBackupsEnabled(t *testing.T) {
	settings := newSettings(t)
	sealer := securestore.NewUnsealedSealer()
	if err := settings.PutString(KeyBackupPassphrase, "pass word"); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	bundle, err := CollectBundle(context.Background(), sealer, settings)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if bundle.BackupPassphrase != nil {
		t.Fatal("passphrase must be omitted while backups are disabled")
	}

	if err := settings.PutBool(KeyBackupEnabled, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	bundle, err = CollectBundle(context.Background(), sealer, settings)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if bundle.BackupPassphrase == nil || *bundle.BackupPassphrase != "pass word" {
		t.Fatalf("passphrase = %v", bundle.BackupPassphrase)
	}
	if !bundle.Valid() {
		t.Fatal("collected bundle must be valid")
	}
}

func TestMalformedBundleAbortsBeforeSettingsMutation(t *testing.T) {
	dir := t.TempDir()
	bundle := testBundle(t)
	if err := ExportBundle(bundle, dir); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	// Corrupt the foundational record after export.
	if err := writeRecord(dir+"/databasesecret.txt", "zz-not-hex"); err != nil {
		t.Fatalf("corrupt failed: %v", err)
	}

	settings := newSettings(t)
	if err := settings.PutString("existing", "value"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	snapshot := settings.GetAll()

	if _, err := ImportBundle(dir); err == nil {
		t.Fatal("import of corrupted bundle must fail")
	}
	if !reflect.DeepEqual(snapshot, settings.GetAll()) {
		t.Fatal("settings changed although the bundle import failed")
	}
}
