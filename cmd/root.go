// Package cmd defines the CLI commands of the article tracker.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/article-tracker/internal/app"
	"github.com/JakeFAU/article-tracker/internal/config"
	"github.com/JakeFAU/article-tracker/internal/discovery"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// appKeyType is the key for storing the Application in the context.
type appKeyType string

const appKey appKeyType = "app"

// needsDiscovery marks commands that run the overview scan even when the
// configuration leaves scheduled discovery off.
const needsDiscovery = "needs-discovery"

// Application is what the commands use. Tests inject a fake.
type Application interface {
	Run(ctx context.Context) error
	AddArticle(ctx context.Context, rawURL string, interval time.Duration, normalizer string) (tracker.Article, error)
	CrawlOnce(ctx context.Context, id string) (tracker.Outcome, error)
	Discover(ctx context.Context) (discovery.Result, error)
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (Application, error) {
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Tracks how news articles change after publication.",
		Long: `tracker re-crawls registered article URLs on an adaptive schedule and
stores a new version whenever the normalized content changes.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if _, ok := cmd.Annotations[needsDiscovery]; ok {
				cfg.Discovery.Enabled = true
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(Application); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/article-tracker, $HOME/.article-tracker)")

	cmd.AddCommand(
		newServeCmd(),
		newAddCmd(),
		newCrawlCmd(),
		newDiscoverCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (Application, error) {
	appInstance, ok := ctx.Value(appKey).(Application)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
