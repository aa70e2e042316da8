package core

// ObjectType 定义了仓库中持久化的对象类型
type ObjectType string

const (
	TypeData     ObjectType = "data"     // 一个 (分段) 数据包
	TypeManifest ObjectType = "manifest" // 逻辑对象到分片的映射
)

// Object 是所有可以写入 Blob Store 的对象的通用接口
type Object interface {
	// Type 返回对象类型
	Type() ObjectType

	// Key 返回对象在 Blob Store 中的存储 Key
	// Data 使用完整名字，Manifest 使用名字的 Hash
	Key() string

	// Bytes 返回对象的序列化数据 (用于存储)
	Bytes() []byte
}
