package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Download an object from the cluster",
	Long:  `Fetches the manifest of the object, then every segment from the member holding its shard. Writes to stdout unless -o is given.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := parseName(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		start := time.Now()

		// 1. 取回 Manifest
		m, err := CLI.GetManifest(ctx, target(), name)
		if err != nil {
			return fmt.Errorf("get manifest failed: %w", err)
		}

		// 2. 选择输出
		// 默认写到 stdout，可以通过 > file.bin 重定向
		var w io.Writer = os.Stdout
		if getOutput != "" {
			f, err := os.Create(getOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		// 3. 按分片下载
		n, err := CLI.Download(ctx, m, w)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		if getOutput != "" {
			fmt.Printf("✅ %s: %d bytes from %d shards (%s)\n", name, n, len(m.Shards), time.Since(start).Round(time.Millisecond))
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write content to this file")
	rootCmd.AddCommand(getCmd)
}
