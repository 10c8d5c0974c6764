package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	def := DefaultConfig()
	if cfg.DataDir != def.DataDir || cfg.ArchiveName != def.ArchiveName {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.DefaultPolicy.AvoidDuplicates {
		t.Fatal("default policy lost")
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
dataDir: /var/lib/mercury
foreignStorePath: /sdcard/msgstore.db
sealSecrets: false
policy:
  includeMedia: false
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.DataDir != "/var/lib/mercury" {
		t.Fatalf("dataDir = %s", cfg.DataDir)
	}
	if cfg.ForeignStorePath != "/sdcard/msgstore.db" {
		t.Fatalf("foreignStorePath = %s", cfg.ForeignStorePath)
	}
	if cfg.SealSecrets {
		t.Fatal("sealSecrets=false not applied")
	}
	if cfg.DefaultPolicy.IncludeMedia {
		t.Fatal("policy.includeMedia=false not applied")
	}
	// Untouched fields keep their defaults.
	if cfg.ArchiveName != DefaultConfig().ArchiveName {
		t.Fatalf("archiveName = %s", cfg.ArchiveName)
	}
	if !cfg.DefaultPolicy.IncludeGroups {
		t.Fatal("unset policy flag lost its default")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("exportRoot: /from/file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MERCURY_BACKUP_EXPORT_ROOT", "/from/env")

	cfg := LoadFromPath(path)
	if cfg.ExportRoot != "/from/env" {
		t.Fatalf("exportRoot = %s", cfg.ExportRoot)
	}
}

func TestEnvBoolOverride(t *testing.T) {
	t.Setenv("MERCURY_BACKUP_SEAL_SECRETS", "false")
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.SealSecrets {
		t.Fatal("env override not applied")
	}

	t.Setenv("MERCURY_BACKUP_SEAL_SECRETS", "not-a-bool")
	cfg = LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if !cfg.SealSecrets {
		t.Fatal("unparseable env value must keep the default")
	}
}
