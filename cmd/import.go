package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/modres/internal/config"
	"github.com/kamusis/modres/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>...",
	Short: "Copy manifest files into the managed manifest directory",
	Long: `Validate the manifest files at the top level of each directory and copy them
into manifest_dir. Identical files are skipped; a file that differs from one
already present is stored as <name>.conflict-<label><ext> for manual review.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

var flagImportLabel string

func init() {
	importCmd.Flags().StringVar(&flagImportLabel, "label", "", "Label used in conflict file names (default: the directory name)")
	rootCmd.AddCommand(importCmd)
}

func runImport(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return importManifests(cfg, args, flagImportLabel)
}

// importManifests imports each dir into cfg.ManifestDir and prints a grouped report.
func importManifests(cfg *config.Config, dirs []string, label string) error {
	var conflicts []importer.ConflictPair

	printSection("Import Manifests")
	for _, dir := range dirs {
		src, err := config.ExpandPath(dir)
		if err != nil {
			return err
		}
		l := label
		if l == "" {
			l = filepath.Base(filepath.Clean(src))
		}

		r, err := importer.ImportDir(src, cfg.ManifestDir, l, cfg.Excludes)
		if err != nil {
			return fmt.Errorf("import [%s]: %w", l, err)
		}
		printOK(l, fmt.Sprintf("%d imported, %d skipped, %d excluded, %d conflict(s), %d invalid",
			r.Imported, r.Skipped, r.Excluded, len(r.Conflicts), len(r.Invalid)))
		for _, inv := range r.Invalid {
			printWarn(l, fmt.Sprintf("%s: %v", inv.Path, inv.Err))
		}
		conflicts = append(conflicts, r.Conflicts...)
	}

	if len(conflicts) > 0 {
		fmt.Fprintf(stdout, "\n⚠  %d conflict(s) detected during import.\n", len(conflicts))
		fmt.Fprintf(stdout, "   All versions have been preserved in %s.\n", cfg.ManifestDir)
		fmt.Fprintln(stdout, "   Conflict copies are not indexed; review and resolve them manually:")
		for _, c := range conflicts {
			fmt.Fprintf(stdout, "     - %s  ← conflicts with %s\n", c.Conflict, c.Original)
		}
	}
	return nil
}
