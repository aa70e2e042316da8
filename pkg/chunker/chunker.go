// Package chunker 用 FastCDC 把内容切成变长分段
// 内容不变时切点不变，重新发布同一个文件得到相同的分段
package chunker

import (
	"math"
)

// 分段大小 (单位: 字节)
const (
	MinSize   = 4 * 1024  // 4KB
	AvgSize   = 8 * 1024  // 8KB
	MaxSize   = 64 * 1024 // 64KB
	NormLevel = 2
)

// Chunker 是一个无状态的切分工具
type Chunker struct {
	maskS uint64
	maskL uint64
}

func NewChunker() *Chunker {
	bits := int(math.Round(math.Log2(float64(AvgSize))))
	return &Chunker{
		maskS: uint64(1<<(bits+NormLevel)) - 1,
		maskL: uint64(1<<(bits-NormLevel)) - 1,
	}
}

// Cut 返回所有分段的结束 offset，最后一个总是 len(data)
// 空数据返回 nil
func (c *Chunker) Cut(data []byte) []int {
	var cutPoints []int
	offset := 0
	n := len(data)

	for offset < n {
		// 1. 剩余不足最小块，整体作为最后一段
		if n-offset <= MinSize {
			cutPoints = append(cutPoints, n)
			return cutPoints
		}

		// 2. 每段开始时指纹清零
		fp := uint64(0)
		idx := offset + MinSize

		normLimit := min(offset+AvgSize, n)
		maxLimit := min(offset+MaxSize, n)

		scan := func(limit int, mask uint64) bool {
			for ; idx < limit; idx++ {
				fp = (fp << 1) + gearTable[data[idx]]
				if (fp & mask) == 0 {
					cutPoints = append(cutPoints, idx+1)
					offset = idx + 1
					return true
				}
			}
			return false
		}

		// A. 归一化区域 (严掩码)
		if scan(normLimit, c.maskS) {
			continue
		}

		// B. 普通区域 (宽掩码)
		if scan(maxLimit, c.maskL) {
			continue
		}

		// C. 强制切分
		cutPoints = append(cutPoints, maxLimit)
		offset = maxLimit
	}

	return cutPoints
}

// Split 按切点返回分段 (共享 data 的底层数组)
func (c *Chunker) Split(data []byte) [][]byte {
	cuts := c.Cut(data)
	out := make([][]byte, 0, len(cuts))
	start := 0
	for _, end := range cuts {
		out = append(out, data[start:end])
		start = end
	}
	return out
}
