package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"ndnrepo/pkg/types"
)

var (
	ErrShardOverlap = errors.New("shard range overlaps an existing shard")
	ErrShardRange   = errors.New("shard start is after shard end")
	// ErrSinglePacket 单包对象的 Manifest 不能再登记分片，反之亦然
	ErrSinglePacket = errors.New("manifest describes a single packet")
)

// Shard 描述一个集群成员负责的一段连续分段 [Start, End]
type Shard struct {
	Name  string `json:"name"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (s Shard) Contains(seg uint64) bool { return s.Start <= seg && seg <= s.End }

// Manifest 描述一个逻辑对象：名字、名字的 Hash，以及它的分片布局
type Manifest struct {
	name Name
	hash types.Hash // 延迟计算，一旦算出不再改变

	StartBlockID *uint64
	EndBlockID   *uint64
	Shards       []Shard

	// Holder 是保存单包对象的成员前缀 (只用于未分片的 Manifest)
	Holder string
}

// NewManifest 创建一个尚无分片的 Manifest
func NewManifest(name Name) *Manifest {
	return &Manifest{name: name}
}

func (m *Manifest) Name() Name { return m.name }

// Hash 返回名字的摘要 (第一次调用时计算并缓存)
func (m *Manifest) Hash() types.Hash {
	if m.hash.IsZero() {
		m.hash = NameHash(m.name)
	}
	return m.hash
}

func (m *Manifest) Type() ObjectType { return TypeManifest }
func (m *Manifest) Key() string      { return m.Hash().String() }

// Bytes 返回 JSON 文本形式，编码失败时返回 nil
func (m *Manifest) Bytes() []byte {
	b, err := m.MarshalText()
	if err != nil {
		return nil
	}
	return b
}

// IsSharded 是否已经有分片信息
func (m *Manifest) IsSharded() bool { return len(m.Shards) > 0 }

// IsSinglePacket 是否描述一个不分段的单包对象
func (m *Manifest) IsSinglePacket() bool { return !m.IsSharded() && m.Holder != "" }

// SetSinglePacket 把 Manifest 标记为单包对象，结束分段号记为 0
func (m *Manifest) SetSinglePacket(holder string) error {
	if m.IsSharded() {
		return fmt.Errorf("%w: %s already has %d shards", ErrSinglePacket, m.name, len(m.Shards))
	}
	var last uint64
	m.Holder = holder
	m.SetSegments(nil, &last)
	return nil
}

// SetSegments 记录未分片对象的分段范围
func (m *Manifest) SetSegments(start, end *uint64) {
	m.StartBlockID = start
	m.EndBlockID = end
}

// AddShard 合并一个分片，保持按起始分段有序且互不重叠
// 完全相同的分片视为幂等重放
func (m *Manifest) AddShard(s Shard) error {
	if s.Start > s.End {
		return fmt.Errorf("%w: [%d, %d]", ErrShardRange, s.Start, s.End)
	}
	if m.Holder != "" {
		return fmt.Errorf("%w: held by %s", ErrSinglePacket, m.Holder)
	}
	for _, cur := range m.Shards {
		if cur == s {
			return nil
		}
		if s.Start <= cur.End && cur.Start <= s.End {
			return fmt.Errorf("%w: [%d, %d] vs %s [%d, %d]", ErrShardOverlap, s.Start, s.End, cur.Name, cur.Start, cur.End)
		}
	}

	idx, _ := slices.BinarySearchFunc(m.Shards, s.Start, func(cur Shard, start uint64) int {
		switch {
		case cur.Start < start:
			return -1
		case cur.Start > start:
			return 1
		}
		return 0
	})
	m.Shards = slices.Insert(m.Shards, idx, s)
	m.refreshBounds()
	return nil
}

// refreshBounds 只有分片首尾相接时才确定边界，否则结束分段仍是未知
func (m *Manifest) refreshBounds() {
	if len(m.Shards) == 0 {
		return
	}
	start := m.Shards[0].Start
	m.StartBlockID = &start
	for i := 1; i < len(m.Shards); i++ {
		if m.Shards[i].Start != m.Shards[i-1].End+1 {
			m.EndBlockID = nil
			return
		}
	}
	end := m.Shards[len(m.Shards)-1].End
	m.EndBlockID = &end
}

// ShardFor 找到负责某个分段的分片
func (m *Manifest) ShardFor(seg uint64) (Shard, bool) {
	for _, s := range m.Shards {
		if s.Contains(seg) {
			return s, true
		}
	}
	return Shard{}, false
}

// Validate 检查分片不变量：有序、不重叠；两端已知时必须恰好覆盖 [start, end]
func (m *Manifest) Validate() error {
	for i, s := range m.Shards {
		if s.Start > s.End {
			return fmt.Errorf("shards[%d]: %w", i, ErrShardRange)
		}
		if i > 0 && s.Start <= m.Shards[i-1].End {
			return fmt.Errorf("shards[%d]: %w", i, ErrShardOverlap)
		}
	}
	if !m.IsSharded() || m.StartBlockID == nil || m.EndBlockID == nil {
		return nil
	}
	if m.Shards[0].Start != *m.StartBlockID || m.Shards[len(m.Shards)-1].End != *m.EndBlockID {
		return fmt.Errorf("shards do not cover [%d, %d]", *m.StartBlockID, *m.EndBlockID)
	}
	for i := 1; i < len(m.Shards); i++ {
		if m.Shards[i].Start != m.Shards[i-1].End+1 {
			return fmt.Errorf("gap between shards[%d] and shards[%d]", i-1, i)
		}
	}
	return nil
}

// manifestDoc 是持久化的文本形式
type manifestDoc struct {
	Name   string  `json:"name"`
	Hash   string  `json:"hash"`
	Start  *uint64 `json:"start,omitempty"`
	End    *uint64 `json:"end,omitempty"`
	Shards []Shard `json:"shards,omitempty"`
	Holder string  `json:"holder,omitempty"`
}

// MarshalText 序列化为自描述的 JSON
// 有分片时写出分片列表；未分片时只写结束分段号
func (m *Manifest) MarshalText() ([]byte, error) {
	doc := manifestDoc{
		Name: m.name.String(),
		Hash: m.Hash().String(),
	}
	if m.IsSharded() {
		doc.Shards = m.Shards
	} else {
		doc.Start = m.StartBlockID
		doc.End = m.EndBlockID
		doc.Holder = m.Holder
	}
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeManifest 解析 JSON 文本，同时返回文本中记录的 Hash
// 调用方负责比较记录值与重新计算的摘要
func DecodeManifest(raw []byte) (*Manifest, types.Hash, error) {
	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("corrupted manifest: %w", err)
	}
	name, err := ParseName(doc.Name)
	if err != nil {
		return nil, "", err
	}

	m := NewManifest(name)
	if len(doc.Shards) > 0 {
		m.Shards = doc.Shards
		m.refreshBounds()
	} else {
		m.SetSegments(doc.Start, doc.End)
		m.Holder = doc.Holder
	}
	return m, types.Hash(doc.Hash), nil
}
