// pkg/index/index.go
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"ndnrepo/pkg/core"
)

var ErrFull = errors.New("the index is full, cannot insert any entry")

// Entry 代表索引中的一条记录
// Handle 是存储层取回对象所需的句柄 (Manifest Hash 或者数据包的存储 Key)
type Entry struct {
	Name   core.Name
	Handle string
}

// Selectors 描述一次前缀查询的过滤条件
// nil 的 Min/Max 表示不限制
type Selectors struct {
	MinSuffixComponents *int
	MaxSuffixComponents *int
	Exclude             []string // 紧跟查询前缀的那个组件不能落在这里
	ChildSelector       int      // <= 0 最左，> 0 最右
}

// Index 是按 NDN 规范顺序排列的有序集合，支持最长前缀查询
type Index struct {
	entries    []Entry // 按 Name.Compare 升序
	maxEntries int     // <= 0 表示不限制
	mu         sync.RWMutex
}

// NewIndex 创建一个容量为 maxEntries 的空索引
func NewIndex(maxEntries int) *Index {
	return &Index{maxEntries: maxEntries}
}

// search 返回第一个 >= name 的位置 (lower bound)
func (i *Index) search(name core.Name) int {
	return sort.Search(len(i.entries), func(k int) bool {
		return i.entries[k].Name.Compare(name) >= 0
	})
}

// Insert 插入一条记录；同名记录已存在时返回 false 且不修改
func (i *Index) Insert(e Entry) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.maxEntries > 0 && len(i.entries) >= i.maxEntries {
		return false, ErrFull
	}
	pos := i.search(e.Name)
	if pos < len(i.entries) && i.entries[pos].Name.Equal(e.Name) {
		return false, nil
	}
	i.entries = slices.Insert(i.entries, pos, e)
	return true, nil
}

// Erase 删除完全同名的记录
func (i *Index) Erase(name core.Name) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	pos := i.search(name)
	if pos < len(i.entries) && i.entries[pos].Name.Equal(name) {
		i.entries = slices.Delete(i.entries, pos, pos+1)
		return true
	}
	return false
}

// Exists 精确匹配
func (i *Index) Exists(name core.Name) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	pos := i.search(name)
	return pos < len(i.entries) && i.entries[pos].Name.Equal(name)
}

// Lookup 找到 name 本身或者它之后的第一条记录，仅当 name 是该记录的前缀时返回
func (i *Index) Lookup(name core.Name) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	pos := i.search(name)
	if pos < len(i.entries) && name.IsPrefixOf(i.entries[pos].Name) {
		return i.entries[pos], true
	}
	return Entry{}, false
}

// Select 在所有以 query 为前缀的记录中，按选择器挑出一条
func (i *Index) Select(query core.Name, sel Selectors) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	lo, hi := i.prefixRange(query)
	if lo == hi {
		return Entry{}, false
	}

	// 1. 最左：升序扫描，第一条满足条件的即为结果
	if sel.ChildSelector <= 0 {
		for k := lo; k < hi; k++ {
			if matches(query, sel, i.entries[k].Name) {
				return i.entries[k], true
			}
		}
		return Entry{}, false
	}

	// 2. 最右：按紧随 query 的子组件分组，从最后一组往前找
	// 组内仍然升序扫描，这样选择器在获胜的子树里依然生效
	last := hi
	for last > lo {
		prev := last - 1
		if prev == lo {
			if matches(query, sel, i.entries[lo].Name) {
				return i.entries[lo], true
			}
			return Entry{}, false
		}

		child := i.entries[prev].Name.Prefix(query.Size() + 1)
		first := lo + sort.Search(last-lo, func(k int) bool {
			return i.entries[lo+k].Name.Compare(child) >= 0
		})
		for k := first; k < last; k++ {
			if matches(query, sel, i.entries[k].Name) {
				return i.entries[k], true
			}
		}
		last = first
	}
	return Entry{}, false
}

// prefixRange 返回以 prefix 开头的记录区间 [lo, hi)
// 规范顺序下这些记录一定是连续的
func (i *Index) prefixRange(prefix core.Name) (int, int) {
	lo := i.search(prefix)
	hi := lo + sort.Search(len(i.entries)-lo, func(k int) bool {
		return !prefix.IsPrefixOf(i.entries[lo+k].Name)
	})
	return lo, hi
}

// matches 判断记录是否满足简单选择器
func matches(query core.Name, sel Selectors, full core.Name) bool {
	if !query.IsPrefixOf(full) {
		return false
	}
	suffix := full.Size() - query.Size()
	if sel.MinSuffixComponents != nil && suffix < *sel.MinSuffixComponents {
		return false
	}
	if sel.MaxSuffixComponents != nil && suffix > *sel.MaxSuffixComponents {
		return false
	}
	if len(sel.Exclude) > 0 && suffix > 0 && slices.Contains(sel.Exclude, full[query.Size()]) {
		return false
	}
	return true
}

// Walk 按升序遍历 prefix 下的所有记录，fn 返回 false 时停止
func (i *Index) Walk(prefix core.Name, fn func(Entry) bool) {
	i.mu.RLock()
	lo, hi := i.prefixRange(prefix)
	batch := slices.Clone(i.entries[lo:hi])
	i.mu.RUnlock()

	for _, e := range batch {
		if !fn(e) {
			return
		}
	}
}

// Len 返回记录条数
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// IsEmpty 检查索引是否有内容
func (i *Index) IsEmpty() bool {
	return i.Len() == 0
}

func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = nil
}

// snapshotEntry 是落盘时的 JSON 形式
type snapshotEntry struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

// Save 将索引持久化到磁盘 (无数据库时用于加速重启)
func (i *Index) Save(path string) error {
	i.mu.RLock()
	out := make([]snapshotEntry, len(i.entries))
	for k, e := range i.entries {
		out[k] = snapshotEntry{Name: e.Name.String(), Handle: e.Handle}
	}
	i.mu.RUnlock()

	// 格式化输出 (Indented)，方便人工排查
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load 从磁盘加载快照；文件不存在时返回空索引
func Load(path string, maxEntries int) (*Index, error) {
	idx := NewIndex(maxEntries)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var in []snapshotEntry
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("corrupted index file: %w", err)
	}
	for _, s := range in {
		name, err := core.ParseName(s.Name)
		if err != nil {
			return nil, fmt.Errorf("corrupted index entry %q: %w", s.Name, err)
		}
		if _, err := idx.Insert(Entry{Name: name, Handle: s.Handle}); err != nil {
			return nil, err
		}
	}
	return idx, nil
}
