package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ndnrepo-server",
	Short: "Sharded named-data repository node",
	// 直接运行等同于 serve
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ndnrepo/config.yaml)")

	// 常用项可以用参数覆盖配置文件
	flags := rootCmd.PersistentFlags()
	flags.String("listen", "", "gRPC listen address")
	flags.Int("id", 0, "member id of this node in the cluster")
	flags.String("metrics-listen", "", "address for the Prometheus /metrics endpoint")
	for key, flag := range map[string]string{
		"server.listen":  "listen",
		"cluster.id":     "id",
		"metrics.listen": "metrics-listen",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
