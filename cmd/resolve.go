package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/modres/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <verb>",
	Short: "Find the modules that handle a verb and nouns",
	Long: `Resolve a query against the configured sources and print the matching modules
in result order. When nothing matches, the single result is "resolution_failed".

Examples:
  modres resolve com.google.fuchsia.navigate.v1
  modres resolve com.google.fuchsia.navigate.v1 --noun start=foo,tangoTown
  modres resolve com.google.fuchsia.navigate.v1 --json-noun 'destination={"@type": "baz"}'
  modres resolve com.google.fuchsia.navigate.v1 --json-noun destination=@place.json`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var (
	flagResolveNouns     []string
	flagResolveJSONNouns []string
	flagResolveWait      time.Duration
	flagResolveJSON      bool
)

func init() {
	resolveCmd.Flags().StringArrayVar(&flagResolveNouns, "noun", nil, "Noun as name=type1,type2 (repeatable)")
	resolveCmd.Flags().StringArrayVar(&flagResolveJSONNouns, "json-noun", nil, "Noun as name=<json> or name=@file (repeatable)")
	resolveCmd.Flags().DurationVar(&flagResolveWait, "wait", 5*time.Second, "How long to wait for sources to finish their initial scan")
	resolveCmd.Flags().BoolVar(&flagResolveJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	nouns, err := parseNounFlags(flagResolveNouns, flagResolveJSONNouns)
	if err != nil {
		return err
	}
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
	ctx, cancel := context.WithTimeout(cmd.Context(), flagResolveWait)
	defer cancel()
	if err := r.WaitReady(ctx); err != nil {
		printWarn("", "sources not idle yet; answering from the entries seen so far")
	}

	res := r.FindModules(cmd.Context(), resolver.Query{Verb: args[0], Nouns: nouns})
	if flagResolveJSON {
		return writeJSON(res)
	}
	printResult(res)
	return nil
}

func printResult(res resolver.FindModulesResult) {
	if res.Fallback() {
		printMiss("", resolver.ResolutionFailed)
		return
	}
	for _, m := range res.Modules {
		name := m.ModuleID
		if m.LocalName != "" && m.LocalName != m.ModuleID {
			name += " (" + m.LocalName + ")"
		}
		printOK("", fmt.Sprintf("%s  ← %s/%s", name, m.Source, m.EntryID))
	}
}

// parseNounFlags turns --noun and --json-noun values into query nouns.
// A name given more than once is an error.
func parseNounFlags(typed, jsonNouns []string) (map[string]resolver.Noun, error) {
	nouns := make(map[string]resolver.Noun, len(typed)+len(jsonNouns))
	add := func(flag, raw string, build func(value string) (resolver.Noun, error)) error {
		name, value, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid --%s %q: want name=value", flag, raw)
		}
		if _, dup := nouns[name]; dup {
			return fmt.Errorf("noun %q given more than once", name)
		}
		n, err := build(value)
		if err != nil {
			return fmt.Errorf("invalid --%s %q: %w", flag, raw, err)
		}
		nouns[name] = n
		return nil
	}

	for _, raw := range typed {
		err := add("noun", raw, func(value string) (resolver.Noun, error) {
			var types []string
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					types = append(types, t)
				}
			}
			return resolver.NounTypes(types...), nil
		})
		if err != nil {
			return nil, err
		}
	}
	for _, raw := range jsonNouns {
		err := add("json-noun", raw, func(value string) (resolver.Noun, error) {
			if path, ok := strings.CutPrefix(value, "@"); ok {
				data, err := os.ReadFile(path)
				if err != nil {
					return resolver.Noun{}, fmt.Errorf("cannot read %s: %w", path, err)
				}
				value = string(data)
			}
			return resolver.NounJSON(value), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return nouns, nil
}
