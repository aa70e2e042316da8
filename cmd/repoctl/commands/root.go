package commands

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ndnrepo/pkg/client"
	"ndnrepo/pkg/config"
	"ndnrepo/pkg/core"
)

var (
	cfgFile string
	via     int

	// 全局配置和客户端，供子命令使用
	Cfg *config.Config
	CLI *client.Client
)

var rootCmd = &cobra.Command{
	Use:          "repoctl",
	Short:        "Client for a sharded named-data repository cluster",
	SilenceUsage: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		config.SetupLogger(Cfg.Logging, os.Stderr)

		CLI, err = newClient(Cfg)
		if err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if CLI != nil {
			return CLI.Close()
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ndnrepo/config.yaml)")
	flags.IntVar(&via, "via", -1, "member id to send commands to (default: cluster.id)")

	// 没有配置文件时也可以只靠参数连上单节点
	flags.String("server", "", "gRPC address of the node when cluster.peers is not configured")
	if err := viper.BindPFlag("server.listen", flags.Lookup("server")); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

func newClient(cfg *config.Config) (*client.Client, error) {
	prefix, err := core.ParseName(cfg.Cluster.Prefix)
	if err != nil {
		return nil, err
	}
	peers, err := cfg.Cluster.PeerMap()
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		peers = map[int]string{cfg.Cluster.ID: dialAddr(cfg.Server.Listen)}
	}
	return client.New(client.Config{
		ClusterPrefix: prefix,
		ClusterSize:   cfg.Cluster.Size,
		Peers:         peers,
		Key:           cfg.Security.Key,
		Lifetime:      cfg.Engine.InterestLifetime,
	})
}

// dialAddr 把监听地址 (":7376") 转成可拨号的地址
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// target 返回接收命令的成员前缀
func target() core.Name {
	id := via
	if id < 0 {
		id = Cfg.Cluster.ID
	}
	return CLI.Member(id)
}

func parseName(arg string) (core.Name, error) {
	name, err := core.ParseName(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid name %q: %w", arg, err)
	}
	if name.Size() == 0 {
		return nil, fmt.Errorf("name must not be empty")
	}
	return name, nil
}

// parseRange 解析 "--range start-end"，空串表示整个对象
func parseRange(s string) (start, end *uint64, err error) {
	if s == "" {
		return nil, nil, nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			continue
		}
		a, errA := strconv.ParseUint(s[:i], 10, 64)
		b, errB := strconv.ParseUint(s[i+1:], 10, 64)
		if errA != nil || errB != nil || a > b {
			break
		}
		return &a, &b, nil
	}
	return nil, nil, fmt.Errorf("invalid range %q (want start-end)", s)
}
