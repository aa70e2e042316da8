// Package router 把内容名字确定性地映射到集群成员
package router

import (
	"encoding/binary"
	"strconv"

	"ndnrepo/pkg/core"

	"github.com/zeebo/blake3"
)

// SelectShard 返回负责 name 的集群成员下标，满足 0 <= idx < clusterSize
// 算法：BLAKE3 摘要 -> 四个小端 uint64 字 XOR 折叠 -> 取模
// 只有名字参与计算，分段号不影响 Manifest 的归属
func SelectShard(name string, clusterSize int) int {
	if clusterSize <= 1 {
		return 0
	}
	sum := blake3.Sum256([]byte(name))

	var folded uint64
	for i := 0; i < len(sum); i += 8 {
		folded ^= binary.LittleEndian.Uint64(sum[i : i+8])
	}
	return int(folded % uint64(clusterSize))
}

// Router 持有集群前缀和规模，负责把名字翻译成成员前缀
type Router struct {
	clusterPrefix core.Name
	clusterSize   int
}

func New(clusterPrefix core.Name, clusterSize int) *Router {
	if clusterSize < 1 {
		clusterSize = 1
	}
	return &Router{clusterPrefix: clusterPrefix, clusterSize: clusterSize}
}

func (r *Router) ClusterSize() int         { return r.clusterSize }
func (r *Router) ClusterPrefix() core.Name { return r.clusterPrefix }

// MemberPrefix 返回第 id 个成员的前缀 (/<cluster>/<id>)
func (r *Router) MemberPrefix(id int) core.Name {
	return r.clusterPrefix.Append(strconv.Itoa(id))
}

// ManifestOwner 返回保存 name 对应 Manifest 的成员前缀
func (r *Router) ManifestOwner(name core.Name) core.Name {
	return r.MemberPrefix(SelectShard(name.String(), r.clusterSize))
}

// BlockOwner 返回第 block 个分段块的归属成员
// 大对象按块 (而不是按分段) 分散到集群
func (r *Router) BlockOwner(name core.Name, block uint64) core.Name {
	key := name.String() + "#" + strconv.FormatUint(block, 10)
	return r.MemberPrefix(SelectShard(key, r.clusterSize))
}

// Blocks 把 [start, end] 切成大小为 blockSize 的连续块
func Blocks(start, end, blockSize uint64) [][2]uint64 {
	if blockSize == 0 || start > end {
		return [][2]uint64{{start, end}}
	}
	var out [][2]uint64
	for s := start; s <= end; s += blockSize {
		e := s + blockSize - 1
		if e > end || e < s {
			e = end
		}
		out = append(out, [2]uint64{s, e})
		if e == end {
			break
		}
	}
	return out
}
