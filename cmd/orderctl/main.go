// Command orderctl extracts orders and items from spreadsheet reports
// without running the server.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/orderimport/internal/sheet"
)

func main() {
	// A .env file is optional for the CLI.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "orderctl",
		Short:        "Extract orders and items from spreadsheet reports",
		SilenceUsage: true,
	}
	root.AddCommand(newExtractCmd(), newFormatsCmd())
	return root
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the spreadsheet formats that can be read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(sheet.Formats()))
			for _, f := range sheet.Formats() {
				names = append(names, string(f))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			return nil
		},
	}
}
