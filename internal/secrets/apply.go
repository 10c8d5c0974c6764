package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"mercury-chat/backup-engine/internal/prefs"
	"mercury-chat/backup-engine/internal/securestore"
)

// Settings keys holding the live secret material. Each secret has a sealed
// and an unsealed slot; exactly one is populated, according to the sealer
// capability chosen at startup.
const (
	KeyDatabaseSealed     = "database_sealed_secret"
	KeyDatabaseUnsealed   = "database_unsealed_secret"
	KeyAttachmentSealed   = "attachment_sealed_secret"
	KeyAttachmentUnsealed = "attachment_unsealed_secret"
	KeyLogSealed          = "log_sealed_secret"
	KeyLogUnsealed        = "log_unsealed_secret"
	KeyBackupPassphrase   = "backup_passphrase"
	KeyBackupEnabled      = "backup_enabled"
)

// Apply overwrites the live secret entries with the bundle's fields. Each
// present field is sealed when the sealer supports it; absent fields leave
// the current entries untouched.
func Apply(ctx context.Context, bundle *Bundle, sealer securestore.SecretSealer, settings *prefs.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bundle.DatabaseKey != nil {
		if err := storeSecret(sealer, settings, KeyDatabaseSealed, KeyDatabaseUnsealed,
			bundle.DatabaseKey.Bytes(), bundle.DatabaseKey.String()); err != nil {
			return err
		}
	}
	if bundle.AttachmentKey != nil {
		serialized := bundle.AttachmentKey.Serialize()
		if err := storeSecret(sealer, settings, KeyAttachmentSealed, KeyAttachmentUnsealed,
			[]byte(serialized), serialized); err != nil {
			return err
		}
	}
	if len(bundle.LogKey) > 0 {
		if err := storeSecret(sealer, settings, KeyLogSealed, KeyLogUnsealed,
			bundle.LogKey, base64.StdEncoding.EncodeToString(bundle.LogKey)); err != nil {
			return err
		}
	}
	if bundle.BackupPassphrase != nil {
		if err := settings.PutString(KeyBackupPassphrase, *bundle.BackupPassphrase); err != nil {
			return err
		}
	}
	return nil
}

// CollectBundle assembles the current live secrets for export. The log key
// is created on first use; the passphrase is included only when standard
// backups are enabled.
func CollectBundle(ctx context.Context, sealer securestore.SecretSealer, settings *prefs.Store) (*Bundle, error) {
	databaseKey, err := currentSecret(sealer, settings, KeyDatabaseSealed, KeyDatabaseUnsealed)
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{}
	if databaseKey == nil {
		// A live store always has a database key; generate one the same
		// way first launch would.
		fresh := make([]byte, databaseKeySize)
		if _, err := rand.Read(fresh); err != nil {
			return nil, err
		}
		key, err := NewDatabaseKey(fresh)
		if err != nil {
			return nil, err
		}
		bundle.DatabaseKey = key
	} else {
		key, err := parseStoredDatabaseKey(databaseKey)
		if err != nil {
			return nil, err
		}
		bundle.DatabaseKey = key
	}

	attachmentKey, err := currentAttachmentKey(sealer, settings)
	if err != nil {
		return nil, err
	}
	bundle.AttachmentKey = attachmentKey

	logKey, err := GetOrCreateLogSecret(ctx, sealer, settings)
	if err != nil {
		return nil, err
	}
	bundle.LogKey = logKey

	if settings.GetBool(KeyBackupEnabled, false) {
		if passphrase, ok := settings.GetString(KeyBackupPassphrase); ok {
			bundle.BackupPassphrase = &passphrase
		}
	}
	return bundle, nil
}

// GetOrCreateLogSecret returns the 32-byte log secret, generating and
// persisting it on first use. Idempotent afterwards.
func GetOrCreateLogSecret(ctx context.Context, sealer securestore.SecretSealer, settings *prefs.Store) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if unsealed, ok := settings.GetString(KeyLogUnsealed); ok {
		raw, err := base64.StdEncoding.DecodeString(unsealed)
		if err != nil {
			return nil, fmt.Errorf("%w: stored log secret is not valid base64", ErrSecretParse)
		}
		return raw, nil
	}
	if sealed, ok := settings.GetString(KeyLogSealed); ok {
		return sealer.Unseal(sealed)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := storeSecret(sealer, settings, KeyLogSealed, KeyLogUnsealed,
		secret, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	slog.Info("generated new log secret")
	return secret, nil
}

func storeSecret(sealer securestore.SecretSealer, settings *prefs.Store, sealedKey, unsealedKey string, raw []byte, unsealed string) error {
	if sealer.Sealed() {
		blob, err := sealer.Seal(raw)
		if err != nil {
			return err
		}
		if err := settings.PutString(sealedKey, blob); err != nil {
			return err
		}
		return settings.Remove(unsealedKey)
	}
	if err := settings.PutString(unsealedKey, unsealed); err != nil {
		return err
	}
	return settings.Remove(sealedKey)
}

// currentSecret yields the raw bytes behind a sealed/unsealed slot pair,
// or nil when neither slot is populated. The unsealed slot holds the
// canonical string form, which callers parse per secret kind.
func currentSecret(sealer securestore.SecretSealer, settings *prefs.Store, sealedKey, unsealedKey string) ([]byte, error) {
	if unsealed, ok := settings.GetString(unsealedKey); ok {
		return []byte(unsealed), nil
	}
	if sealed, ok := settings.GetString(sealedKey); ok {
		raw, err := sealer.Unseal(sealed)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
	return nil, nil
}

// parseStoredDatabaseKey accepts both the raw sealed form (32 bytes) and
// the canonical hex form held in the unsealed slot.
func parseStoredDatabaseKey(stored []byte) (*DatabaseKey, error) {
	if len(stored) == databaseKeySize {
		return NewDatabaseKey(stored)
	}
	return ParseDatabaseKey(string(stored))
}

func currentAttachmentKey(sealer securestore.SecretSealer, settings *prefs.Store) (*AttachmentKey, error) {
	stored, err := currentSecret(sealer, settings, KeyAttachmentSealed, KeyAttachmentUnsealed)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return ParseAttachmentKey(string(stored))
	}
	key := &AttachmentKey{ModernKey: make([]byte, 32)}
	if _, err := rand.Read(key.ModernKey); err != nil {
		return nil, err
	}
	return key, nil
}
