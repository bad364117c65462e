package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/kamusis/modres/cmd.version=...".
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show modres version and build information",
	RunE:  runVersion,
}

var flagVersionJSON bool

func init() {
	versionCmd.Flags().BoolVar(&flagVersionJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(versionCmd)
}

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func currentBuildInfo() buildInfo {
	return buildInfo{
		Version:   version,
		Commit:    emptyAsNA(commit),
		BuildDate: emptyAsNA(buildDate),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func runVersion(_ *cobra.Command, _ []string) error {
	info := currentBuildInfo()
	if flagVersionJSON {
		return writeJSON(info)
	}
	fmt.Fprintf(stdout, "Version:    %s\n", info.Version)
	fmt.Fprintf(stdout, "Commit:     %s\n", info.Commit)
	fmt.Fprintf(stdout, "Build Date: %s\n", info.BuildDate)
	fmt.Fprintf(stdout, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(stdout, "OS/Arch:    %s\n", info.Platform)
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
