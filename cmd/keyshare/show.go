package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal"
	"github.com/sensiblebit/keyshare/internal/certstore"
	"github.com/sensiblebit/keyshare/internal/datasource"
)

var showClass string

var showCmd = &cobra.Command{
	Use:   "show <row>",
	Short: "Show the attributes of a stored credential",
	Long:  "Show the attributes of the credential at a row of 'keyshare list' for the same class.",
	Example: `  keyshare show 0 --db keys.db
  keyshare show 2 --db keys.db --class key --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	classFlag(showCmd, &showClass, certstore.ClassIdentity)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	row, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("row %q is not a number", args[0])
	}
	class, err := certstore.ParseClass(showClass)
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
	item, err := ds.Item(row)
	if err != nil {
		return err
	}
	attrs, err := ds.AttributesFor(ctx, row)
	if err != nil {
		return err
	}
	output, err := internal.FormatAttributes(attrs, outputFormat)
	if err != nil {
		return err
	}
	if outputFormat == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%d]:\n", item.Label, row)
	}
	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}
