package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ndnrepo/pkg/command"
)

var deleteRange string

var deleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete an object (or a segment range of it) from the cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := parseName(args[0])
		if err != nil {
			return err
		}
		start, end, err := parseRange(deleteRange)
		if err != nil {
			return err
		}

		resp, err := CLI.Command(cmd.Context(), target(), command.VerbDelete, &command.Parameter{
			Name:         name.String(),
			StartBlockID: start,
			EndBlockID:   end,
		})
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Printf("🗑️  Deleted %d segments of %s\n", resp.DeleteNum, name)
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteRange, "range", "", "segment range start-end (default: whole object)")
	rootCmd.AddCommand(deleteCmd)
}
