package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/ignore"
	"ndnrepo/pkg/publisher"
	"ndnrepo/pkg/router"
	"ndnrepo/pkg/server"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

var (
	putListen    string
	putAdvertise string
	putTimeout   time.Duration
	putParallel  int
)

var putCmd = &cobra.Command{
	Use:   "put [name] [file|dir]",
	Short: "Publish a file or directory and insert it into the cluster",
	Long: `Segments the content, serves the segments from a local gRPC endpoint and asks the
cluster members chosen by the router to fetch them block by block. Each member
registers its shard with the manifest owner once its block is stored.

A directory is published file by file under <name>/<relative path>, skipping
paths matched by the default rules and the directory's .repoignore.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := parseName(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), putTimeout)
		defer cancel()
		start := time.Now()

		// 1. 切分文件
		files, err := collectFiles(name, args[1])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("Nothing to put (all files are ignored).")
			return nil
		}

		pub := publisher.New(nil)
		objects := make([]object, 0, len(files))
		for _, f := range files {
			last, err := publishFile(ctx, pub, f.name, f.path)
			if err != nil {
				return fmt.Errorf("publish %s failed: %w", f.path, err)
			}
			fmt.Printf("📦 %s: %d segments\n", f.name, last+1)
			objects = append(objects, object{name: f.name, last: last})
		}

		// 2. 通过本地 gRPC 端点提供分段
		for _, o := range objects {
			unlisten, err := pub.Serve(CLI.Face(), o.name)
			if err != nil {
				return err
			}
			defer unlisten()
		}

		lis, err := net.Listen("tcp", putListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", putListen, err)
		}
		srv := server.New(CLI.Face(), nil)
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				fmt.Fprintln(os.Stderr, "producer endpoint stopped:", err)
			}
		}()
		defer srv.Stop()

		advertise := putAdvertise
		if advertise == "" {
			advertise = dialAddr(lis.Addr().String())
		}
		hint := transport.AddressHint(advertise).String()

		// 3. 按块分发插入命令并等待完成
		g, gctx := errgroup.WithContext(ctx)
		if putParallel > 0 {
			g.SetLimit(putParallel)
		}
		blocks := 0
		for _, o := range objects {
			for i, b := range router.Blocks(0, o.last, Cfg.Engine.ShardBlockSize) {
				owner := CLI.Router().BlockOwner(o.name, uint64(i))
				g.Go(func() error {
					return insertBlock(gctx, owner, o.name, b[0], b[1], hint)
				})
				blocks++
			}
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("✅ Inserted %d objects in %d blocks (%s)\n", len(objects), blocks, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

type object struct {
	name core.Name
	last uint64
}

type localFile struct {
	name core.Name
	path string
}

// collectFiles 把文件或目录展开成 (名字, 路径) 列表
func collectFiles(name core.Name, root string) ([]localFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []localFile{{name: name, path: root}}, nil
	}

	matcher, err := ignore.NewMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	var files []localFile
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err // 权限错误等
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fileName := name
		for _, part := range strings.Split(rel, "/") {
			fileName = fileName.Append(part)
		}
		files = append(files, localFile{name: fileName, path: path})
		return nil
	})
	return files, err
}

func publishFile(ctx context.Context, pub *publisher.Publisher, name core.Name, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return pub.Publish(ctx, name, f)
}

func insertBlock(ctx context.Context, owner core.Name, name core.Name, start, end uint64, hint string) error {
	resp, err := CLI.Command(ctx, owner, command.VerbInsert, &command.Parameter{
		Name:           name.String(),
		StartBlockID:   &start,
		EndBlockID:     &end,
		ForwardingHint: hint,
	})
	if err != nil {
		return fmt.Errorf("insert [%d, %d] on %s: %w", start, end, owner, err)
	}
	if resp.StatusCode != types.StatusAccepted && resp.StatusCode != types.StatusOK {
		return fmt.Errorf("insert [%d, %d] on %s: unexpected status %d", start, end, owner, resp.StatusCode)
	}

	done, err := CLI.WaitProcess(ctx, owner, resp.ProcessID, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("insert [%d, %d] on %s: %w", start, end, owner, err)
	}
	fmt.Printf("  %s [%d, %d] %d segments\n", owner, start, end, done.InsertNum)
	return nil
}

func init() {
	putCmd.Flags().StringVar(&putListen, "listen", "127.0.0.1:0", "local address serving the published segments")
	putCmd.Flags().StringVar(&putAdvertise, "advertise", "", "address the cluster uses to reach this producer (default: listen address)")
	putCmd.Flags().IntVar(&putParallel, "parallel", 8, "insert commands in flight at once")
	putCmd.Flags().DurationVar(&putTimeout, "timeout", 10*time.Minute, "overall time limit")
	rootCmd.AddCommand(putCmd)
}
