package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geeth24/codeflow/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show codeflow build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		info := version.Current()
		out := cmd.OutOrStdout()
		if format == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		if format != "pretty" {
			return fmt.Errorf("unsupported format %q (pretty|json)", format)
		}
		_, err = fmt.Fprintln(out, info.String())
		return err
	},
}

func init() {
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}
