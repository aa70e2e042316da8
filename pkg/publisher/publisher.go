// Package publisher 把本地内容切成分段数据包，并在传输层上提供给仓库节点拉取
package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"ndnrepo/pkg/chunker"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/storage/memory"
	"ndnrepo/pkg/transport"
)

// Publisher 持有已经切好的数据包
type Publisher struct {
	repo    *storage.RepoStorage
	chunker *chunker.Chunker
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		repo:    storage.NewRepoStorage(memory.New(), 0, logger),
		chunker: chunker.NewChunker(),
		logger:  logger,
	}
}

// Publish 读取全部内容，切分为 name/0 .. name/N-1，返回最后一个分段号
// 每个数据包都带 FinalBlockID，空内容也会生成一个空的分段
func (p *Publisher) Publish(ctx context.Context, name core.Name, r io.Reader) (uint64, error) {
	// 1. 读入内存
	// TODO: 流式切分，避免大文件整体读入
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read content: %w", err)
	}

	// 2. 切分
	parts := p.chunker.Split(data)
	if len(parts) == 0 {
		parts = [][]byte{{}}
	}
	last := uint64(len(parts) - 1)

	// 3. 封装为数据包
	for i, part := range parts {
		d, err := core.NewData(name.AppendSegment(uint64(i)), part, &last)
		if err != nil {
			return 0, fmt.Errorf("failed to build segment %d: %w", i, err)
		}
		if _, err := p.repo.InsertData(ctx, d); err != nil {
			return 0, err
		}
	}

	p.logger.Info("Content published",
		slog.String("name", name.String()),
		slog.Int("bytes", len(data)),
		slog.Uint64("segments", last+1),
	)
	return last, nil
}

// Serve 在 name 上回答分段请求，返回的函数取消注册
func (p *Publisher) Serve(face transport.Transport, name core.Name) (func(), error) {
	return face.Listen(name, func(in transport.Interest, reply transport.Responder) {
		d, err := p.Read(context.Background(), in.Name)
		if err != nil {
			p.logger.Debug("Unknown segment requested", "name", in.Name.String())
			return
		}
		reply(d.Bytes())
	})
}

// Read 精确读取一个已发布的分段
func (p *Publisher) Read(ctx context.Context, name core.Name) (*core.Data, error) {
	if !p.repo.HasData(name) {
		return nil, storage.ErrNotFound
	}
	return p.repo.ReadData(ctx, name, index.Selectors{})
}

// Segments 返回已发布的数据包数量
func (p *Publisher) Segments() int {
	return p.repo.Index().Len()
}
