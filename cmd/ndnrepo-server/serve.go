package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"ndnrepo/pkg/app"
	"ndnrepo/pkg/config"
	"ndnrepo/pkg/eventloop"
	"ndnrepo/pkg/server"
	"ndnrepo/pkg/service"
	"ndnrepo/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the repository node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	// 1. Load Config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.SetupLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Core Application
	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer application.Close()

	// 3. 事件循环与 Face：路由到其他成员
	loop := eventloop.New(0)
	face := transport.NewGRPCFace(loop, transport.WithLogger(logger))
	defer face.Close()

	peers, err := cfg.Cluster.PeerMap()
	if err != nil {
		return err
	}
	for id, addr := range peers {
		if id == cfg.Cluster.ID {
			continue
		}
		face.AddRoute(application.Router.MemberPrefix(id), addr)
	}

	opts, err := application.NodeOptions()
	if err != nil {
		return err
	}
	node := service.NewNode(application.NodeConfig(), loop, face, application.Repo, application.Manifests, opts...)

	// 4. Setup Network
	lis, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}
	grpcServer := server.New(face, application.Metrics)

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(application.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	// 5. Start (Async)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// 节点状态只能在循环里初始化
	started := make(chan error, 1)
	loop.Post(func() { started <- node.Start(gctx) })
	select {
	case err := <-started:
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to start node: %w", err)
		}
	case <-gctx.Done():
		return g.Wait()
	}
	logger.Info("Repository node started",
		"prefix", application.NodePrefix().String(),
		"cluster_size", cfg.Cluster.Size,
		"listen", lis.Addr().String(),
	)

	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("Metrics endpoint listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	// 6. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down repository node")
		grpcServer.GracefulStop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		node.Stop()
		return nil
	})

	return g.Wait()
}
