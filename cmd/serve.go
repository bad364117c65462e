package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kamusis/modres/internal/config"
	"github.com/kamusis/modres/internal/resolver"
	"github.com/kamusis/modres/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the configured sources and serve queries over HTTP",
	Long: `Start the resolver, keep every configured source under watch and answer
queries on the HTTP API until interrupted.

Endpoints:
  POST /v1/find_modules      resolve a query
  GET  /v1/modules?type=T    modules with a noun constraint accepting T
  GET  /v1/entries           every indexed manifest entry
  GET  /v1/status            sources, readiness and entry counts
  GET  /healthz, /readyz     liveness and readiness probes`,
	RunE: runServe,
}

var (
	flagServeListen      string
	flagServeLockTimeout time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&flagServeListen, "listen", "", "Listen address (overrides listen in modres.yaml)")
	serveCmd.Flags().DurationVar(&flagServeLockTimeout, "lock-timeout", 2*time.Second, "How long to wait for another serve to release its lock")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lockPath, err := serveLockPath()
	if err != nil {
		return err
	}
	unlock, err := acquireLock(lockPath, "serve", flagServeLockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := buildResolver(cfg, resolver.WithIdleGating(cfg.GateOnIdle))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, r.Close()) }()

	if err := r.Start(ctx); err != nil {
		// Sources that did start keep serving.
		logger.Warn("some sources failed to start", zap.Error(err))
		printWarn("", err.Error())
	}

	addr := cfg.ListenAddr()
	if flagServeListen != "" {
		addr = flagServeListen
	}
	printOK("", fmt.Sprintf("Serving %d source(s) on http://%s", len(r.Status().Sources), addr))
	return server.New(r, logger.Named("server")).ListenAndServe(ctx, addr)
}

// serveLockPath returns the lock that keeps two servers off one config.
func serveLockPath() (string, error) {
	dir, err := config.ModresDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "serve.lock"), nil
}
