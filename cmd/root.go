package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kamusis/modres/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool

	logger   = zap.NewNop()
	logLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

var rootCmd = &cobra.Command{
	Use:          "modres",
	Short:        "modres — resolve verbs and nouns to the modules that handle them",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `modres watches directories of module manifests and answers which modules
can perform a verb on a set of typed nouns.

Manifests live in ~/.modres/manifests/ by default; sources are configured in
~/.modres/modres.yaml.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if flagVerbose {
			logLevel.SetLevel(zapcore.DebugLevel)
		}
		zcfg.Level = logLevel
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.modres/modres.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configPath returns --config or the default config location.
func configPath() (string, error) {
	if flagConfig != "" {
		return config.ExpandPath(flagConfig)
	}
	return config.ConfigPath()
}

// loadConfig loads the active config and applies its log level unless
// --verbose already raised it.
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'modres init' first.", err)
	}
	if !flagVerbose && cfg.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
		logLevel.SetLevel(lvl)
	}
	return cfg, nil
}
