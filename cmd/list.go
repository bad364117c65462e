package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/modres/internal/index"
	"github.com/kamusis/modres/internal/manifest"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed manifest entries",
	Long: `List every manifest entry the configured sources report, grouped by source.

  modres list                      all entries
  modres list --verb navigate      entries for one verb
  modres list --type foo --type x  modules with a noun constraint accepting foo or x`,
	RunE: runList,
}

var (
	flagListVerb  string
	flagListTypes []string
	flagListJSON  bool
)

func init() {
	listCmd.Flags().StringVar(&flagListVerb, "verb", "", "Only list entries for this verb")
	listCmd.Flags().StringSliceVar(&flagListTypes, "type", nil, "Only list modules accepting one of these noun types")
	listCmd.Flags().BoolVar(&flagListJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := buildResolver(cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Start(cmd.Context()); err != nil {
		printWarn("", err.Error())
	}

	if len(flagListTypes) > 0 {
		modules := r.FindModulesByType(cmd.Context(), flagListTypes...)
		if flagListJSON {
			return writeJSON(modules)
		}
		printSection("Modules accepting " + strings.Join(flagListTypes, ", "))
		if len(modules) == 0 {
			printMiss("", "none")
		}
		for _, m := range modules {
			printOK(m.Source, fmt.Sprintf("%s  (%s)", m.ModuleID, m.EntryID))
		}
		return nil
	}

	records := filterByVerb(r.Entries(), flagListVerb)
	if flagListJSON {
		return writeJSON(records)
	}
	printEntries(records)
	return nil
}

func filterByVerb(records []index.Record, verb string) []index.Record {
	if verb == "" {
		return records
	}
	verb = manifest.Normalize(verb)
	out := records[:0:0]
	for _, rec := range records {
		if rec.Entry.Verb == verb {
			out = append(out, rec)
		}
	}
	return out
}

func printEntries(records []index.Record) {
	if len(records) == 0 {
		printMiss("", "no manifest entries found")
		return
	}
	current := ""
	for _, rec := range records {
		if rec.Source != current {
			current = rec.Source
			printBullet(current + ":")
		}
		printOK(rec.EntryID, fmt.Sprintf("%s  verb=%s%s", rec.Entry.Binary, rec.Entry.Verb, describeNouns(rec.Entry)))
	}
	fmt.Fprintf(stdout, "\n  %d entr%s\n", len(records), plural(len(records), "y", "ies"))
}

func describeNouns(e manifest.Entry) string {
	if len(e.NounConstraints) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.NounConstraints))
	for _, c := range e.NounConstraints {
		types := "*"
		if len(c.Types) > 0 {
			types = strings.Join(c.Types, "|")
		}
		parts = append(parts, c.Name+":"+types)
	}
	return "  nouns=" + strings.Join(parts, ",")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
