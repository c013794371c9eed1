package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webpage-search/internal/app"
	"github.com/JakeFAU/webpage-search/internal/clock"
	"github.com/JakeFAU/webpage-search/internal/search"
)

// newScrapeCmd runs one search job in-process and streams records as JSON lines.
func newScrapeCmd() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "scrape [file]",
		Short: "Fetches a newline-separated URL list and prints one JSON record per line",
		Long: `Reads the URL list from the given file, or from stdin when no file is given,
and writes one JSON record per input line to stdout as soon as it is ready.
Invalid lines and page-load timeouts are reported in the record; any other browser
error stops the run with a non-zero exit status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			fetcherCfg := rt.cfg.Fetcher
			if backend != "" {
				fetcherCfg.Backend = backend
			}

			raw, err := readQuery(cmd, args)
			if err != nil {
				return err
			}
			query, err := search.ValidateQuery(map[string]any{search.QueryKey: raw})
			if err != nil {
				return err
			}

			newSession, err := app.NewSessionFactory(fetcherCfg)
			if err != nil {
				return err
			}
			session, err := newSession(cmd.Context())
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer func() {
				if cerr := session.Close(); cerr != nil {
					rt.logger.Warn("close session failed", zap.Error(cerr))
				}
			}()

			enc := json.NewEncoder(cmd.OutOrStdout())
			producer := search.NewProducer(session, clock.System{}, rt.logger.Named("scrape"))
			for record, err := range producer.Produce(cmd.Context(), query) {
				if err != nil {
					return fmt.Errorf("search aborted: %w", err)
				}
				if err := enc.Encode(record); err != nil {
					return fmt.Errorf("write record: %w", err)
				}
			}
			// The producer stops quietly on interrupt; the exit status must not.
			if err := cmd.Context().Err(); err != nil {
				return fmt.Errorf("scrape interrupted: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "fetcher", "", "override fetcher.backend (headless or http)")
	return cmd
}

func readQuery(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("open query file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read query: %w", err)
	}
	// A terminating newline ends the last line rather than starting an empty one.
	return strings.TrimSuffix(string(data), "\n"), nil
}
