package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mercury-chat/backup-engine/internal/backup"
	"mercury-chat/backup-engine/internal/config"
	"mercury-chat/backup-engine/internal/platform/privacylog"
	"mercury-chat/backup-engine/internal/prefs"
	"mercury-chat/backup-engine/internal/securestore"
	"mercury-chat/backup-engine/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	op := flag.String("op", "", "operation: export-full | import-full | export-plaintext | import-plaintext | import-foreign")
	configPath := flag.String("config", "", "Path to backup-engine.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Application data directory override (optional)")
	exportRoot := flag.String("export-root", "", "Export root override (optional)")
	archivePath := flag.String("archive", "", "Archive or document path for import operations")
	password := flag.String("password", "", "Archive password for import operations")
	foreignDB := flag.String("foreign-db", "", "Foreign message store path override (optional)")
	includeGroups := flag.Bool("include-groups", true, "Foreign import: include group conversations")
	avoidDuplicates := flag.Bool("avoid-duplicates", true, "Foreign import: skip already-imported rows")
	includeMedia := flag.Bool("include-media", true, "Foreign import: include media messages")
	flag.Parse()
	if *showVersion {
		fmt.Printf("backupctl version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	slog.SetDefault(slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil))))

	cfg := config.LoadFromPath(*configPath)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *exportRoot != "" {
		cfg.ExportRoot = *exportRoot
	}
	if *foreignDB != "" {
		cfg.ForeignStorePath = *foreignDB
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("backupctl failed to initialize: %v", err)
	}
	defer cleanup()

	outcome, err := runOperation(ctx, engine, *op, *archivePath, *password, cfg, *includeGroups, *avoidDuplicates, *includeMedia)
	if err != nil {
		log.Printf("backupctl %s failed: %v", *op, err)
	}
	fmt.Println(outcome)
	if outcome != backup.Success {
		os.Exit(1)
	}
}

func buildEngine(ctx context.Context, cfg config.Config) (*backup.Engine, func(), error) {
	settings, err := prefs.NewStore(backup.SettingsPath(cfg.DataDir))
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	if _, err := store.EnsureSelf(ctx, cfg.SelfAddress); err != nil {
		store.Close()
		return nil, nil, err
	}

	var sealer securestore.SecretSealer
	if cfg.SealSecrets {
		sealer = securestore.NewPlatformSealer(securestore.NewFileKeystore(cfg.DataDir))
	} else {
		sealer = securestore.NewUnsealedSealer()
	}

	engine := backup.NewEngine(cfg, store, settings, sealer)
	return engine, func() { store.Close() }, nil
}

func runOperation(ctx context.Context, engine *backup.Engine, op, archivePath, password string, cfg config.Config, includeGroups, avoidDuplicates, includeMedia bool) (backup.Outcome, error) {
	switch op {
	case "export-full":
		return engine.ExportFull(ctx)
	case "import-full":
		return engine.ImportFull(ctx, archivePath, password)
	case "export-plaintext":
		return engine.ExportPlaintext(ctx)
	case "import-plaintext":
		return engine.ImportPlaintext(ctx, archivePath, password)
	case "import-foreign":
		policy := cfg.DefaultPolicy
		policy.IncludeGroups = includeGroups
		policy.AvoidDuplicates = avoidDuplicates
		policy.IncludeMedia = includeMedia
		return engine.ImportForeign(ctx, policy, func(n int64) {
			slog.Info("foreign import progress", "rows", n)
		})
	default:
		return backup.IOErr, fmt.Errorf("unknown operation %q", op)
	}
}
