package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal/config"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List known content types and whether they are enabled",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

type contentTypeJSON struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Extensions  []string `json:"extensions"`
	Enabled     bool     `json:"enabled"`
}

func runTypes(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	switch outputFormat {
	case "text":
		for _, ct := range config.KnownContentTypes {
			mark := " "
			if cfg.Enabled(ct.ID) {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %-22s %-28s %s\n", mark, ct.ID, ct.Description, strings.Join(ct.Extensions, " "))
		}
		return nil
	case "json":
		list := make([]contentTypeJSON, 0, len(config.KnownContentTypes))
		for _, ct := range config.KnownContentTypes {
			list = append(list, contentTypeJSON{ID: ct.ID, Description: ct.Description, Extensions: ct.Extensions, Enabled: cfg.Enabled(ct.ID)})
		}
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use text or json)", outputFormat)
	}
}
