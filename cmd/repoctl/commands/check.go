package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ndnrepo/pkg/command"
)

var checkCmd = &cobra.Command{
	Use:   "check [process-id]",
	Short: "Query the status of an insert or delete process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid process id %q", args[0])
		}

		resp, err := CLI.Command(cmd.Context(), target(), command.VerbCheck, &command.Parameter{ProcessID: &pid})
		if err != nil {
			return err
		}

		fmt.Printf("process %s: status %d\n", resp.ProcessID, resp.StatusCode)
		fmt.Printf("  inserted: %d\n", resp.InsertNum)
		fmt.Printf("  deleted:  %d\n", resp.DeleteNum)
		if resp.StartBlockID != nil {
			fmt.Printf("  start:    %d\n", *resp.StartBlockID)
		}
		if resp.EndBlockID != nil {
			fmt.Printf("  end:      %d\n", *resp.EndBlockID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
