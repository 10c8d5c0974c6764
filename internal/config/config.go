// Package config loads the engine configuration from YAML with environment
// overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"mercury-chat/backup-engine/pkg/models"
)

// Config is the resolved engine configuration.
type Config struct {
	DataDir          string
	ExportRoot       string
	SelfAddress      string
	ForeignStorePath string
	ArchiveName      string
	PlaintextName    string
	ArchivePlaintext bool
	SealSecrets      bool
	DefaultPolicy    models.ImportPolicy
}

// FileConfig is the YAML shape. Pointers distinguish "absent" from zero
// values during the merge.
type FileConfig struct {
	DataDir          string `yaml:"dataDir"`
	ExportRoot       string `yaml:"exportRoot"`
	SelfAddress      string `yaml:"selfAddress"`
	ForeignStorePath string `yaml:"foreignStorePath"`
	ArchiveName      string `yaml:"archiveName"`
	PlaintextName    string `yaml:"plaintextName"`
	ArchivePlaintext *bool  `yaml:"archivePlaintext"`
	SealSecrets      *bool  `yaml:"sealSecrets"`
	Policy           struct {
		IncludeGroups   *bool `yaml:"includeGroups"`
		AvoidDuplicates *bool `yaml:"avoidDuplicates"`
		IncludeMedia    *bool `yaml:"includeMedia"`
	} `yaml:"policy"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:       "data",
		ExportRoot:    "export",
		SelfAddress:   "self",
		ArchiveName:   "full-backup.bak",
		PlaintextName: "messages.xml",
		SealSecrets:   true,
		DefaultPolicy: models.ImportPolicy{
			IncludeGroups:   true,
			AvoidDuplicates: true,
			IncludeMedia:    true,
		},
	}
}

// LoadFromPath reads configuration from the given path, falling back to the
// default search locations, then applies environment overrides. A missing or
// unparseable file silently yields the defaults.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/backup-engine.yaml",
			"backup-engine.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src FileConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.ExportRoot != "" {
		dst.ExportRoot = src.ExportRoot
	}
	if src.SelfAddress != "" {
		dst.SelfAddress = src.SelfAddress
	}
	if src.ForeignStorePath != "" {
		dst.ForeignStorePath = src.ForeignStorePath
	}
	if src.ArchiveName != "" {
		dst.ArchiveName = src.ArchiveName
	}
	if src.PlaintextName != "" {
		dst.PlaintextName = src.PlaintextName
	}
	if src.ArchivePlaintext != nil {
		dst.ArchivePlaintext = *src.ArchivePlaintext
	}
	if src.SealSecrets != nil {
		dst.SealSecrets = *src.SealSecrets
	}
	if src.Policy.IncludeGroups != nil {
		dst.DefaultPolicy.IncludeGroups = *src.Policy.IncludeGroups
	}
	if src.Policy.AvoidDuplicates != nil {
		dst.DefaultPolicy.AvoidDuplicates = *src.Policy.AvoidDuplicates
	}
	if src.Policy.IncludeMedia != nil {
		dst.DefaultPolicy.IncludeMedia = *src.Policy.IncludeMedia
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MERCURY_BACKUP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("MERCURY_BACKUP_EXPORT_ROOT")); v != "" {
		cfg.ExportRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("MERCURY_BACKUP_FOREIGN_STORE")); v != "" {
		cfg.ForeignStorePath = v
	}
	raw := strings.TrimSpace(os.Getenv("MERCURY_BACKUP_SEAL_SECRETS"))
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return
	}
	cfg.SealSecrets = v
}
