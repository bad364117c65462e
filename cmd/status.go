package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/modres/internal/resolver"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running modres server",
	RunE:  runStatus,
}

var (
	flagStatusAddr    string
	flagStatusTimeout time.Duration
)

func init() {
	statusCmd.Flags().StringVar(&flagStatusAddr, "addr", "", "Server address (default: listen from modres.yaml)")
	statusCmd.Flags().DurationVar(&flagStatusTimeout, "timeout", 3*time.Second, "Request timeout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr := flagStatusAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.ListenAddr()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagStatusTimeout)
	defer cancel()
	st, err := fetchStatus(ctx, addr)
	if err != nil {
		return err
	}

	printSection("modres status")
	if st.Ready {
		printOK("", fmt.Sprintf("ready — %d entries indexed", st.Entries))
	} else {
		printWarn("", fmt.Sprintf("initial scan in progress — %d entries indexed so far", st.Entries))
	}
	printBullet("Sources:")
	for _, s := range st.Sources {
		switch {
		case s.Error != "":
			printErr(s.Name, s.Error)
		case s.Idle:
			printOK(s.Name, fmt.Sprintf("%d entr%s", s.Entries, plural(s.Entries, "y", "ies")))
		default:
			printInfo(s.Name, fmt.Sprintf("scanning (%d so far)", s.Entries))
		}
	}
	return nil
}

// fetchStatus retrieves /v1/status from the server at addr.
func fetchStatus(ctx context.Context, addr string) (*resolver.Status, error) {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/") + "/v1/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "modres-cli")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach modres server at %s: %w\nIs 'modres serve' running?", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("status request failed: %s\n%s", resp.Status, strings.TrimSpace(string(body)))
	}

	var st resolver.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("cannot decode status response: %w", err)
	}
	return &st, nil
}
