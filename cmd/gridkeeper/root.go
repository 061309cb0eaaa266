package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/config"
	"github.com/vergegrid/gridkeeper/internal/dbverify"
	"github.com/vergegrid/gridkeeper/internal/install"
	"github.com/vergegrid/gridkeeper/internal/store"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global flags
	cfgPath        string
	installRoot    string
	logLevel       string
	logFormat      string
	quiet          bool
	nonInteractive bool
	globalCfg      *config.Config
	logger         *slog.Logger

	// Global components
	globalStore *store.Store
)

// initStore opens the run-history database
func initStore() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	dbPath := globalCfg.History.DBPath
	if dbPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolving user config dir: %w", err)
		}
		dbPath = filepath.Join(dir, "gridkeeper", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	globalStore = st
	return nil
}

// shouldSkipStore checks if a command can run without the history store
func shouldSkipStore(cmd *cobra.Command) bool {
	skipCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"config":     true,
		"completion": true,
	}
	if skipCmds[cmd.Name()] {
		return true
	}
	if p := cmd.Parent(); p != nil && skipCmds[p.Name()] {
		return true
	}
	return false
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gridkeeper",
		Short: "Backup, first-run verification, and cleanup for VergeGrid grid installs",
		Long: `gridkeeper manages the risky moments in a VergeGrid grid's life: verified
ZIP backups of the install tree, the controlled first launch of the Robust
service with database schema verification, backup validation and restore,
and the guarded reset and cleanup flows.`,
		Example: `  gridkeeper backup
  gridkeeper bootstrap --wait 45s
  gridkeeper verify-db
  gridkeeper restore --archive VergeGridBackup_2025-01-02_030405.zip --verify-only
  gridkeeper cleanup --mode backup-cleanup
  gridkeeper status`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil && !isConfigCmd(cmd) {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if installRoot != "" {
				globalCfg.Install.Root = installRoot
			}

			attachFileLog()

			logger.Debug("config loaded", "path", cfgPath, "install_root", globalCfg.Install.Root)

			// Open the run-history store after config is loaded
			if !shouldSkipStore(cmd) {
				if err := initStore(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&installRoot, "install-root", "", "override the grid install root")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	cmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt; destructive actions are declined")

	// Add subcommands
	cmd.AddCommand(
		newBackupCmd(),
		newBootstrapCmd(),
		newVerifyDBCmd(),
		newRestoreCmd(),
		newCleanupCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	logger = slog.New(newLogHandler(os.Stderr, parseLevel()))
	slog.SetDefault(logger)
}

// parseLevel maps the --log-level flag to a slog level. --quiet raises the
// floor to error regardless of the level asked for.
func parseLevel() slog.Level {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}
	return level
}

// newLogHandler builds the text or JSON handler per the --log-format flag
func newLogHandler(w io.Writer, level slog.Level) slog.Handler {
	if strings.ToLower(logFormat) == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// attachFileLog rebuilds the logger to mirror output into the rotating file
// named by the config. Runs after config load; the flag-driven level and
// format stay in effect.
func attachFileLog() {
	if globalCfg == nil || globalCfg.Logging.File == "" {
		return
	}

	rotating := &lumberjack.Logger{
		Filename:   globalCfg.Logging.File,
		MaxSize:    globalCfg.Logging.MaxSizeMB,
		MaxBackups: globalCfg.Logging.MaxBackups,
		MaxAge:     globalCfg.Logging.MaxAgeDays,
	}
	logger = slog.New(newLogHandler(io.MultiWriter(os.Stderr, rotating), parseLevel()))
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// isConfigCmd reports whether cmd is `config` or one of its subcommands.
// Those commands work without a config file, so the not-found warning
// would only confuse.
func isConfigCmd(cmd *cobra.Command) bool {
	if cmd.Name() == "config" {
		return true
	}
	p := cmd.Parent()
	return p != nil && p.Name() == "config"
}

// resolveInstall locates the grid install from the configured root, the
// saved path file, or a volume scan.
func resolveInstall() (*install.Install, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return install.Resolve(globalCfg.Install.Root, logger)
}

// dbConfig maps the config's database block onto the checker's settings.
func dbConfig() dbverify.Config {
	c := dbverify.DefaultConfig()
	if globalCfg == nil {
		return c
	}
	db := globalCfg.Database
	if db.Host != "" {
		c.Host = db.Host
	}
	if db.Port != 0 {
		c.Port = db.Port
	}
	if db.User != "" {
		c.User = db.User
	}
	c.Password = db.Password
	if db.Name != "" {
		c.Database = db.Name
	}
	return c
}
