package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal"
	"github.com/sensiblebit/keyshare/internal/certstore"
	"github.com/sensiblebit/keyshare/internal/coordinator"
	"github.com/sensiblebit/keyshare/internal/datasource"
	"github.com/sensiblebit/keyshare/internal/importer"
	"github.com/sensiblebit/keyshare/internal/metrics"
	"github.com/sensiblebit/keyshare/internal/provider"
)

var importClass string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a shared container or archive of containers",
	Long: "Acquire access to the file, fetch its password from the provider's password service, " +
		"and import the container (or every entry of an archive) into the credential store.",
	Example: `  keyshare import ~/Providers/Acme/alice.p12
  keyshare import ~/Providers/Acme/team.zip --db keys.db
  keyshare import team.zip --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	classFlag(importCmd, &importClass, certstore.ClassIdentity)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	class, err := certstore.ParseClass(importClass)
	if err != nil {
		return err
	}
	locator, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving %s: %w", args[0], err)
	}
	if err := cfg.Allows(filepath.Base(locator)); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	m := metrics.New()
	defer writeMetrics(m)

	ds := datasource.New(store)
	c := coordinator.New(coordinator.Config{
		Access: coordinator.FileAccess(cfg.AccessTimeout),
		Passwords: coordinator.ChannelSource(&provider.Channel{
			ConnectTimeout: cfg.ConnectTimeout,
			FetchTimeout:   cfg.FetchTimeout,
		}),
		Importer: importer.New(store),
		Limits:   cfg.ArchiveLimits(),
		OnComplete: func() {
			if err := ds.Refresh(ctx, class); err != nil {
				slog.Warn("refreshing credential list", "error", err)
			}
		},
		Metrics: m,
	})

	res := <-c.Go(ctx, locator)

	out := cmd.OutOrStdout()
	report, err := internal.FormatImportResult(res, outputFormat, internal.NewPalette(out))
	if err != nil {
		return err
	}
	fmt.Fprint(out, report)
	if outputFormat == "text" {
		listing, err := internal.FormatItems(ds.Class(), ds.Items(), "text")
		if err != nil {
			return err
		}
		fmt.Fprint(out, "\n"+listing)
	}

	if res.State == coordinator.StageFailed {
		return fmt.Errorf("importing %s: %w", res.Name, res.Err)
	}
	return nil
}

func writeMetrics(m *metrics.Metrics) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
		slog.Warn("writing metrics textfile", "path", cfg.MetricsTextfile, "error", err)
	}
}
