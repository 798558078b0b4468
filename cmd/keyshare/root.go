package main

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal"
	"github.com/sensiblebit/keyshare/internal/certstore"
	"github.com/sensiblebit/keyshare/internal/config"
)

var (
	configFile   string
	noColor      bool
	outputFormat string

	// cfg is resolved before every command runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "keyshare",
	Short: "Import shared credentials into a local key store",
	Long: "Import PKCS#12 identities, and archives of them, from document providers that vend " +
		"the decryption password over a local password service, then browse the resulting store.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("log-level", "l", "info", "Log level: debug, info, warn, error")
	flags.StringP("db", "d", "", "SQLite database path (default: in-memory)")
	flags.StringSlice("content-types", config.DefaultContentTypes(), "Enabled content type ids (see 'keyshare types')")
	flags.String("metrics-textfile", "", "Write Prometheus metrics to this file after an import")
	flags.StringVar(&configFile, "config", "", "Config file (default: keyshare.yaml in the user config dir, /etc/keyshare or .)")
	flags.BoolVar(&noColor, "no-color", false, "Disable coloured output")
	flags.StringVar(&outputFormat, "format", "text", "Output format: text or json")

	registerCompletion(rootCmd, completionInput{flagName: "log-level", completeFunc: fixedCompletion("debug", "info", "warn", "error")})
	registerCompletion(rootCmd, completionInput{flagName: "format", completeFunc: fixedCompletion("text", "json")})
	registerCompletion(rootCmd, completionInput{flagName: "content-types", completeFunc: contentTypeCompletion})
	registerCompletion(rootCmd, completionInput{flagName: "config", completeFunc: fileCompletion})
	registerCompletion(rootCmd, completionInput{flagName: "db", completeFunc: fileCompletion})

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(providerCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	cfg = c
	internal.SetupLogger(cfg.LogLevel)
	if noColor {
		color.NoColor = true
	}
	return nil
}

// openStore opens the configured credential store.
func openStore() (*certstore.Store, error) {
	store, err := certstore.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	if cfg.DB == "" {
		slog.Debug("using an in-memory credential store; contents are discarded on exit")
	}
	return store, nil
}

func closeStore(store *certstore.Store) {
	if err := store.Close(); err != nil {
		slog.Warn("closing credential store", "error", err)
	}
}

// classFlag registers a --class flag on cmd defaulting to def.
func classFlag(cmd *cobra.Command, target *string, def certstore.Class) {
	cmd.Flags().StringVar(target, "class", string(def), "Credential class: identity, certificate, key or all")
	registerCompletion(cmd, completionInput{flagName: "class", completeFunc: fixedCompletion(
		string(certstore.ClassIdentity),
		string(certstore.ClassCertificate),
		string(certstore.ClassKey),
		string(certstore.ClassAll),
	)})
}
