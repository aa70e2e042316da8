package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"ndnrepo/pkg/core"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrFull     = errors.New("repository storage is full")
)

// Store 是 key -> bytes 的持久化后端
// 实现可以是本地磁盘、嵌入式 KV、对象存储或内存
type Store interface {
	// Put 持久化一个对象，Key 由对象自己给出；同 Key 覆盖
	Put(ctx context.Context, obj core.Object) error

	// Get 读取原始字节，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Has 检查对象是否存在
	Has(ctx context.Context, key string) (bool, error)

	// Delete 返回对象是否存在并已被删除
	Delete(ctx context.Context, key string) (bool, error)

	// Enumerate 遍历全部对象，fn 返回错误时中止遍历
	Enumerate(ctx context.Context, fn func(key string, data []byte) error) error
}

// 名字里有 '/' 等字符，不适合直接当文件名或对象 Key
// 磁盘和 S3 后端按 Key 的摘要分布，并把原始 Key 一起封装进去，以便 Enumerate 还原

type envelope struct {
	Key  string `cbor:"k"`
	Data []byte `cbor:"d"`
}

// Seal 把 Key 和数据封装成一个 CBOR 信封
func Seal(key string, data []byte) ([]byte, error) {
	return core.EncodeObject(envelope{Key: key, Data: data})
}

// Open 解开信封
func Open(raw []byte) (string, []byte, error) {
	var env envelope
	if err := core.DecodeObject(raw, &env); err != nil {
		return "", nil, fmt.Errorf("corrupted envelope: %w", err)
	}
	return env.Key, env.Data, nil
}

// Digest 返回 Key 的摘要 (十六进制)，作为物理路径
func Digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Layout 把摘要拆成两级目录 (Sharding)
// Example: "aabbcc..." -> "aa/bbcc..."
func Layout(digest string) (string, string) {
	if len(digest) < 2 {
		return "", digest
	}
	return digest[:2], digest[2:]
}
