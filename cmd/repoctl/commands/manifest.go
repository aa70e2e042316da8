package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ndnrepo/pkg/exporter"
)

var manifestJSON bool

var manifestCmd = &cobra.Command{
	Use:   "manifest [name]",
	Short: "Show the manifest of an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := parseName(args[0])
		if err != nil {
			return err
		}
		m, err := CLI.GetManifest(cmd.Context(), target(), name)
		if err != nil {
			return err
		}

		if manifestJSON {
			fmt.Println(string(m.Bytes()))
			return nil
		}
		return exporter.PrintManifest(m, os.Stdout)
	},
}

func init() {
	manifestCmd.Flags().BoolVar(&manifestJSON, "json", false, "print the stored JSON form")
	rootCmd.AddCommand(manifestCmd)
}
