package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ndnrepo/pkg/app"
	"ndnrepo/pkg/config"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/exporter"
)

var exportOutput string

// exportCmd 直接读取本节点的存储，不需要节点在运行
var exportCmd = &cobra.Command{
	Use:   "export [name]",
	Short: "Write a locally stored object to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := core.ParseName(args[0])
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.SetupLogger(cfg.Logging, os.Stderr)

		application, err := app.NewApp(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer application.Close()

		// 1. 从存储重建数据索引
		if err := application.Repo.Initialize(cmd.Context()); err != nil {
			return err
		}

		// 2. 选择输出
		var w io.Writer = os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		n, err := exporter.NewExporter(application.Repo).ExportObject(cmd.Context(), name, w)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if exportOutput != "" {
			fmt.Printf("✅ Exported %s (%d bytes) to %s\n", name, n, exportOutput)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write content to this file")
	rootCmd.AddCommand(exportCmd)
}
