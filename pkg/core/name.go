package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// segmentMarker 是分段组件的前缀字节 (NDN naming convention)
const segmentMarker = 0x00

var (
	ErrInvalidName    = errors.New("invalid name")
	ErrNotSegment     = errors.New("component is not a segment number")
	ErrInvalidEscapes = errors.New("invalid percent-encoding in name")
)

// Name 是层次化的名字，每个元素是一个二进制安全的组件
// 约定：Name 是不可变的，所有修改方法都返回新的切片
type Name []string

// ParseName 解析 URI 形式的名字 ("/a/b/%00%01")
func ParseName(uri string) (Name, error) {
	uri = strings.TrimSpace(uri)
	uri = strings.TrimPrefix(uri, "ndn:")
	if !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidName, uri)
	}

	var name Name
	for _, part := range strings.Split(uri, "/") {
		if part == "" {
			continue
		}
		comp, err := unescapeComponent(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, uri)
		}
		name = append(name, comp)
	}
	return name, nil
}

// MustParseName 用于常量和测试
func MustParseName(uri string) Name {
	n, err := ParseName(uri)
	if err != nil {
		panic(err)
	}
	return n
}

// String 返回规范化的 URI 形式
func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, c := range n {
		b.WriteByte('/')
		escapeComponent(&b, c)
	}
	return b.String()
}

func (n Name) Size() int { return len(n) }

// At 支持负数下标 (-1 表示最后一个组件)
func (n Name) At(i int) string {
	if i < 0 {
		i += len(n)
	}
	return n[i]
}

// Prefix 返回前 count 个组件；count 为负数时表示去掉末尾 -count 个
func (n Name) Prefix(count int) Name {
	if count < 0 {
		count += len(n)
	}
	if count <= 0 {
		return Name{}
	}
	if count > len(n) {
		count = len(n)
	}
	return n[:count:count]
}

// SubName 返回从 start 开始的后缀
func (n Name) SubName(start int) Name {
	if start >= len(n) {
		return Name{}
	}
	out := make(Name, len(n)-start)
	copy(out, n[start:])
	return out
}

// Append 追加组件 (总是复制，不共享底层数组)
func (n Name) Append(comps ...string) Name {
	out := make(Name, 0, len(n)+len(comps))
	out = append(out, n...)
	return append(out, comps...)
}

func (n Name) AppendName(other Name) Name {
	return n.Append(other...)
}

// AppendSegment 追加一个分段组件
func (n Name) AppendSegment(seg uint64) Name {
	return n.Append(SegmentComponent(seg))
}

// IsPrefixOf 判断 n 是否为 other 的前缀 (包括相等)
func (n Name) IsPrefixOf(other Name) bool {
	if len(n) > len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

func (n Name) Equal(other Name) bool {
	return len(n) == len(other) && n.IsPrefixOf(other)
}

// Compare 按 NDN 规范顺序比较两个名字
// 逐个组件比较，前缀较短者在前
func (n Name) Compare(other Name) int {
	for i := 0; i < len(n) && i < len(other); i++ {
		if c := CompareComponent(n[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(n) < len(other):
		return -1
	case len(n) > len(other):
		return 1
	default:
		return 0
	}
}

// Segment 把最后一个组件解析为分段号
func (n Name) Segment() (uint64, error) {
	if len(n) == 0 {
		return 0, ErrNotSegment
	}
	return ParseSegment(n[len(n)-1])
}

// CompareComponent 规范顺序：长度短的在前，长度相同按字节序
func CompareComponent(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare([]byte(a), []byte(b))
}

// SegmentComponent 编码分段号：marker + NonNegativeInteger (1/2/4/8 字节)
func SegmentComponent(seg uint64) string {
	var buf []byte
	switch {
	case seg <= 0xFF:
		buf = []byte{segmentMarker, byte(seg)}
	case seg <= 0xFFFF:
		buf = binary.BigEndian.AppendUint16([]byte{segmentMarker}, uint16(seg))
	case seg <= 0xFFFFFFFF:
		buf = binary.BigEndian.AppendUint32([]byte{segmentMarker}, uint32(seg))
	default:
		buf = binary.BigEndian.AppendUint64([]byte{segmentMarker}, seg)
	}
	return string(buf)
}

// ParseSegment 是 SegmentComponent 的逆操作
func ParseSegment(comp string) (uint64, error) {
	if len(comp) < 2 || comp[0] != segmentMarker {
		return 0, ErrNotSegment
	}
	b := []byte(comp[1:])
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, ErrNotSegment
	}
}

func isUnreserved(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func escapeComponent(b *strings.Builder, comp string) {
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(comp); i++ {
		c := comp[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
}

func unescapeComponent(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", ErrInvalidEscapes
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", ErrInvalidEscapes
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return string(out), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
