package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"boxdharvest-backend/lib/configutil"
	"boxdharvest-backend/lib/scrapers/boxd"
	"boxdharvest-backend/lib/telemetry"
	"boxdharvest-backend/services/harvest"
	"boxdharvest-backend/services/harvest/db"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

type Config struct {
	// path to the sqlite database, created if missing
	Database string `json:"database"`
	// directory for the flat csv exports, disabled when empty
	ExportDir string `json:"export_dir"`
	// when true the database and exports are redirected under
	// sandbox/ so trial runs never touch the real corpus
	Sandbox bool `json:"sandbox"`

	BaseUrl    string `json:"base_url"`
	RetryCount int    `json:"retry_count"`
	// dumps every http exchange under this directory when set
	CaptureDir string `json:"capture_dir"`

	PageWorkers  int `json:"page_workers"`
	PageWindow   int `json:"page_window"`
	EmptyPageRun int `json:"empty_page_run"`
	UserWorkers  int `json:"user_workers"`

	// known users older than this many hours get re-harvested,
	// 0 means never
	RefreshAfterHours int  `json:"refresh_after_hours"`
	Versioned         bool `json:"versioned"`
}

var debug bool

var rootCmd = &cobra.Command{
	Use:   "boxdharvest",
	Short: "boxdharvest collects film ratings from public member profiles into a deduplicated corpus.",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup wires the full service from config.json5: telemetry, the
// sqlite store and the scraping client. The returned cleanup flushes
// telemetry and closes the database.
func setup(ctx context.Context) (harvest.Service, func(), error) {
	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return harvest.Service{}, nil, fmt.Errorf("read config: %w", err)
	}

	telemetry.InitSlog(debug)
	t, err := telemetry.SetupFromEnv(ctx, "boxdharvest")
	if err != nil {
		return harvest.Service{}, nil, fmt.Errorf("setup telemetry: %w", err)
	}
	telemetry.InstrumentPerfStats(ctx)

	dbPath := config.Database
	if dbPath == "" {
		dbPath = "harvest.db"
	}
	exportDir := config.ExportDir
	if config.Sandbox {
		dbPath = filepath.Join("sandbox", filepath.Base(dbPath))
		if exportDir != "" {
			exportDir = filepath.Join("sandbox", exportDir)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return harvest.Service{}, nil, fmt.Errorf("create data dir: %w", err)
	}
	if exportDir != "" {
		if err := os.MkdirAll(exportDir, 0755); err != nil {
			return harvest.Service{}, nil, fmt.Errorf("create export dir: %w", err)
		}
	}

	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return harvest.Service{}, nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := database.ExecContext(ctx, db.Schema); err != nil {
		database.Close()
		return harvest.Service{}, nil, fmt.Errorf("apply schema: %w", err)
	}

	client := boxd.NewClient(boxd.ClientOptions{
		BaseUrl:    config.BaseUrl,
		RetryCount: config.RetryCount,
		CaptureDir: config.CaptureDir,
	})

	svc := harvest.NewService(database, client, client, harvest.Options{
		PageWorkers:  config.PageWorkers,
		PageWindow:   config.PageWindow,
		EmptyPageRun: config.EmptyPageRun,
		UserWorkers:  config.UserWorkers,
		RefreshAfter: time.Duration(config.RefreshAfterHours) * time.Hour,
		ExportDir:    exportDir,
		Versioned:    config.Versioned,
	})

	cleanup := func() {
		t.Shutdown(context.Background())
		database.Close()
	}
	return svc, cleanup, nil
}
