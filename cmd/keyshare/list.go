package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal"
	"github.com/sensiblebit/keyshare/internal/certstore"
	"github.com/sensiblebit/keyshare/internal/datasource"
)

var listClass string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Long:  "List the credentials of one class in insertion order. Row numbers are accepted by 'keyshare show'.",
	Example: `  keyshare list --db keys.db
  keyshare list --db keys.db --class all --format json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	classFlag(listCmd, &listClass, certstore.ClassIdentity)
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	class, err := certstore.ParseClass(listClass)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	ds := datasource.New(store)
	if err := ds.Refresh(ctx, class); err != nil {
		return err
	}
	output, err := internal.FormatItems(ds.Class(), ds.Items(), outputFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output)

	if outputFormat == "text" {
		sum, err := store.Summarize(ctx)
		if err != nil {
			return err
		}
		line, err := internal.FormatSummary(sum, "text")
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), "\n"+line)
	}
	return nil
}
