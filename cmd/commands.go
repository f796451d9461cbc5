package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler, the crawl workers and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}

func newAddCmd() *cobra.Command {
	var (
		interval   time.Duration
		normalizer string
	)
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Registers an article for tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			article, err := appInstance.AddArticle(cmd.Context(), args[0], interval, normalizer)
			if err != nil {
				return fmt.Errorf("add article: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), article)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "base crawl interval (default from scheduler.default_interval)")
	cmd.Flags().StringVar(&normalizer, "normalizer", "", "normalizer strategy (default from crawl.normalizer)")
	return cmd
}

type crawlReport struct {
	Result   string `json:"result"`
	Sequence int    `json:"sequence,omitempty"`
	Hash     string `json:"content_hash,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <article-id>",
		Short: "Crawls one article immediately and stores a version if it changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := appInstance.CrawlOnce(cmd.Context(), args[0])
			report := crawlReport{Result: string(outcome.Result), Hash: outcome.Hash}
			if outcome.Version != nil {
				report.Sequence = outcome.Version.Sequence
			}
			if err != nil {
				if report.Result == "" {
					return fmt.Errorf("crawl %s: %w", args[0], err)
				}
				report.Error = err.Error()
			}
			if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
				return werr
			}
			if err != nil {
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "discover",
		Short:       "Scans the overview page once and registers new articles",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsDiscovery: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Discover(cmd.Context())
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the Postgres tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "tables ready")
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
