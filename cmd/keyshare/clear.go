package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal"
	"github.com/sensiblebit/keyshare/internal/certstore"
	"github.com/sensiblebit/keyshare/internal/datasource"
)

var clearClass string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete stored credentials",
	Long: "Delete every stored credential of a class. The default, all, deletes identities first " +
		"and then every remaining certificate and key.",
	Example: `  keyshare clear --db keys.db
  keyshare clear --db keys.db --class identity`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	classFlag(clearCmd, &clearClass, certstore.ClassAll)
}

func runClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	class, err := certstore.ParseClass(clearClass)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	classes := []certstore.Class{class}
	if class == certstore.ClassAll {
		classes = []certstore.Class{certstore.ClassIdentity, certstore.ClassCertificate, certstore.ClassKey}
	}
	for _, c := range classes {
		if err := store.DeleteAll(ctx, c); err != nil {
			return fmt.Errorf("clearing %s items: %w", c, err)
		}
	}

	ds := datasource.New(store)
	if err := ds.Refresh(ctx, certstore.ClassIdentity); err != nil {
		return err
	}
	output, err := internal.FormatItems(ds.Class(), ds.Items(), outputFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}
