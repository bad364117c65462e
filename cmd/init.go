package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/modres/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the modres config and manifest directory",
	Long: `Initialize modres under ~/.modres/:

  modres.yaml     sources, listen address and excludes
  .env            optional MODRES_* overrides
  manifests/      the managed manifest directory

Existing manifests can be pulled in at the same time with --import.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var flagInitImport []string

func init() {
	initCmd.Flags().StringSliceVar(&flagInitImport, "import", nil, "Directories of existing manifests to import")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	// ── 1. Resolve ~/.modres directory ────────────────────────────────────────
	modresDir, err := config.ModresDir()
	if err != nil {
		return err
	}
	cfgPath, err := configPath()
	if err != nil {
		return err
	}

	// ── 2. Create ~/.modres/ if it doesn't exist ──────────────────────────────
	if err := os.MkdirAll(modresDir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", modresDir, err)
	}
	printOK("", fmt.Sprintf("modres directory ready: %s", modresDir))

	// ── 3. Write modres.yaml if missing ───────────────────────────────────────
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		if err := config.SaveFile(cfgPath, cfg); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("Config already exists: %s", cfgPath))
	}

	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}

	// ── 4. Load final config ──────────────────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// ── 5. Create the manifest directory ──────────────────────────────────────
	if err := os.MkdirAll(cfg.ManifestDir, 0o755); err != nil {
		return fmt.Errorf("cannot create manifest dir %s: %w", cfg.ManifestDir, err)
	}
	printOK("", fmt.Sprintf("Manifest directory ready: %s", cfg.ManifestDir))

	// ── 6. Import existing manifests ──────────────────────────────────────────
	if len(flagInitImport) > 0 {
		if err := importManifests(cfg, flagInitImport, ""); err != nil {
			return err
		}
	}

	fmt.Fprintln(stdout, "\n✓  modres init complete. Run 'modres doctor' to verify your environment.")
	return nil
}
