// Package exporter 从本地仓库存储还原对象内容，并把结构化对象打印成人类可读的形式
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/storage"
)

var ErrIncomplete = errors.New("object is not completely stored on this node")

type Exporter struct {
	repo *storage.RepoStorage
}

func NewExporter(repo *storage.RepoStorage) *Exporter {
	return &Exporter{repo: repo}
}

// ExportObject 把 name 的分段 0..FinalBlockID 按顺序写入 writer
// 只适用于全部分段都在本地的对象 (单节点部署或者离线导出)
func (e *Exporter) ExportObject(ctx context.Context, name core.Name, writer io.Writer) (int64, error) {
	var written int64
	var final *uint64

	for seg := uint64(0); final == nil || seg <= *final; seg++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		// 1. 精确读取分段
		segName := name.AppendSegment(seg)
		if !e.repo.HasData(segName) {
			if seg == 0 {
				return 0, fmt.Errorf("%w: %s has no segment 0", storage.ErrNotFound, name)
			}
			return written, fmt.Errorf("%w: segment %d of %s is missing", ErrIncomplete, seg, name)
		}
		d, err := e.repo.ReadData(ctx, segName, index.Selectors{})
		if err != nil {
			return written, fmt.Errorf("failed to read segment %d: %w", seg, err)
		}

		// 2. 终点以第一个带 FinalBlockID 的分段为准
		if final == nil {
			if d.FinalBlockID == nil {
				return written, fmt.Errorf("%w: segment %d of %s carries no final block id", ErrIncomplete, seg, name)
			}
			f := *d.FinalBlockID
			final = &f
		}

		// 3. 流式写出
		n, err := writer.Write(d.Content)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("failed to write segment %d: %w", seg, err)
		}
	}
	return written, nil
}
