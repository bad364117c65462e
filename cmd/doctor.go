package cmd

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/modres/internal/config"
	"github.com/kamusis/modres/internal/manifest"
	"github.com/kamusis/modres/internal/snapshot"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight environment checks",
	Long: `Check that the modres config, sources and manifests are usable.
Run this command when a query returns resolution_failed unexpectedly.`,
	RunE: runDoctor,
}

var doctorFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Automatically fix detected issues",
	Long: `Fix detected issues in the modres environment.

Currently fixes:
  - Unresolved import conflicts: deletes all .conflict-* files from manifest_dir

Run 'modres doctor' first to see what will be fixed.`,
	RunE: runDoctorFix,
}

func init() {
	doctorCmd.AddCommand(doctorFixCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctorFix(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printSection("modres doctor fix")

	fmt.Fprintln(stdout, "\n[ Unresolved conflicts ]")
	conflicts := findConflictFiles(cfg.ManifestDir)
	if len(conflicts) == 0 {
		printOK("", "no conflict files found — nothing to fix")
		return nil
	}

	var failed int
	for _, name := range conflicts {
		if err := os.Remove(filepath.Join(cfg.ManifestDir, name)); err != nil {
			printErr("", fmt.Sprintf("cannot delete %s: %v", name, err))
			failed++
		} else {
			printOK("", fmt.Sprintf("deleted %s", name))
		}
	}

	fmt.Fprintln(stdout)
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be deleted", failed)
	}
	fmt.Fprintf(stdout, "  ✓  %d conflict file(s) removed.\n", len(conflicts))
	return nil
}

func runDoctor(_ *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("modres doctor")
	fmt.Fprintln(stdout)

	// ── Check 1: config file ──────────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ modres.yaml ]")
	cfgPath, err := configPath()
	if err != nil {
		failD("cannot determine config path: %v", err)
	}
	cfg, loadErr := loadConfig()
	switch {
	case err != nil:
	case loadErr != nil:
		failD("%s: %v", cfgPath, loadErr)
	default:
		printOK("", fmt.Sprintf("valid config — %d source(s) defined", len(cfg.Sources)))
		if len(cfg.Sources) == 0 {
			printWarn("", "no sources configured; manifest_dir is watched as \"local\"")
		}
		if _, _, err := net.SplitHostPort(cfg.ListenAddr()); err != nil {
			failD("invalid listen address %q: %v", cfg.ListenAddr(), err)
		}
	}
	fmt.Fprintln(stdout)
	if loadErr != nil || err != nil {
		return summarizeDoctor(false)
	}

	// ── Check 2: sources ──────────────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ Sources ]")
	for _, s := range effectiveSources(cfg) {
		switch s.Type {
		case config.SourceDirectory:
			valid, invalid, err := checkManifestDir(s.Path, cfg.Excludes)
			if err != nil {
				failD("[%s] %v", s.Name, err)
				continue
			}
			for _, msg := range invalid {
				printWarn(s.Name, msg)
			}
			if len(invalid) > 0 {
				allOK = false
			}
			printOK(s.Name, fmt.Sprintf("%d valid manifest(s) in %s", valid, s.Path))
		case config.SourceSnapshot:
			snap, err := snapshot.Load(s.Path)
			if err != nil {
				failD("[%s] %v", s.Name, err)
				continue
			}
			printOK(s.Name, fmt.Sprintf("snapshot verified — %d entries", len(snap.Records)))
		}
	}
	fmt.Fprintln(stdout)

	// ── Check 3: unresolved import conflicts ──────────────────────────────────
	fmt.Fprintln(stdout, "[ Unresolved conflicts ]")
	conflicts := findConflictFiles(cfg.ManifestDir)
	if len(conflicts) == 0 {
		printOK("", "no unresolved conflict files found")
	} else {
		for _, c := range conflicts {
			printWarn("", c)
		}
		fmt.Fprintf(stdout, "\n  ⚠  %d unresolved conflict file(s) found in %s.\n", len(conflicts), cfg.ManifestDir)
		fmt.Fprintln(stdout, "     Review them, keep the version you want under the original name,")
		fmt.Fprintln(stdout, "     then run 'modres doctor fix' to delete the rest.")
		allOK = false
	}
	fmt.Fprintln(stdout)

	return summarizeDoctor(allOK)
}

func summarizeDoctor(allOK bool) error {
	fmt.Fprintln(stdout, "===================")
	if allOK {
		fmt.Fprintln(stdout, "✓  All checks passed. modres is ready to use.")
		return nil
	}
	fmt.Fprintln(stderr, "✗  One or more checks failed. See details above.")
	return fmt.Errorf("doctor found issues")
}

// checkManifestDir parses every manifest the directory source would load and
// returns the number that parse along with a message per failure.
func checkManifestDir(dir string, excludes []string) (int, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot read %s: %w", dir, err)
	}
	var valid int
	var invalid []string
	for _, e := range entries {
		if e.IsDir() || manifest.Excluded(e.Name(), excludes) {
			continue
		}
		if _, err := manifest.ParseFile(filepath.Join(dir, e.Name())); err != nil {
			invalid = append(invalid, err.Error())
			continue
		}
		valid++
	}
	return valid, invalid, nil
}

// findConflictFiles returns the names of files in dir whose name contains
// ".conflict-". These are left behind by modres import.
func findConflictFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), ".conflict-") {
			found = append(found, e.Name())
		}
	}
	sort.Strings(found)
	return found
}
