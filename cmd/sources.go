package cmd

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kamusis/modres/internal/config"
	"github.com/kamusis/modres/internal/resolver"
	"github.com/kamusis/modres/internal/source"
)

// buildResolver returns a resolver with every configured source attached.
// With no sources configured, the manifest directory is watched as "local".
func buildResolver(cfg *config.Config, opts ...resolver.Option) (*resolver.Resolver, error) {
	debounce, err := cfg.DebounceDuration()
	if err != nil {
		return nil, err
	}

	r := resolver.New(append([]resolver.Option{resolver.WithLogger(logger.Named("resolver"))}, opts...)...)
	for _, s := range effectiveSources(cfg) {
		src, err := newSource(cfg, s, debounce)
		if err != nil {
			return nil, err
		}
		if err := r.AddSource(s.Name, src); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newSource(cfg *config.Config, s config.Source, debounce time.Duration) (source.Source, error) {
	l := logger.Named("source").With(zap.String("source", s.Name))
	switch s.Type {
	case config.SourceDirectory:
		return source.NewDirectory(s.Path,
			source.WithExcludes(cfg.Excludes),
			source.WithDebounce(debounce),
			source.WithCreate(s.Path == cfg.ManifestDir),
			source.WithLogger(l),
		), nil
	case config.SourceSnapshot:
		return source.NewSnapshot(s.Path, l), nil
	default:
		return nil, fmt.Errorf("source %s: unknown type %q", s.Name, s.Type)
	}
}

// effectiveSources returns the configured sources, or the manifest directory
// as "local" when none are configured.
func effectiveSources(cfg *config.Config) []config.Source {
	if len(cfg.Sources) > 0 {
		return cfg.Sources
	}
	return []config.Source{{Name: "local", Type: config.SourceDirectory, Path: cfg.ManifestDir}}
}
