package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"ndnrepo/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 定义确定性 (Canonical) CBOR 编码选项
// 命令参数、数据包、磁盘信封都走这一套，保证同一对象编码唯一
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	// 保证相同的对象生成唯一的 Hash
	Sort: cbor.SortCanonical,

	//2.浮点数必须使用64位表示
	ShortestFloat: cbor.ShortestFloatNone,
	// 3. 时间格式化为 Unix 整数
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码 (Indefinite Length)
	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

// 定义符合 DAG-CBOR 规范的解码选项
var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS 攻击) ---
	// 限制容器元素数量和嵌套深度，防止恶意构造的巨大头部耗尽内存或栈
	MaxArrayElements: 10000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  100,

	// --- 规范性配置 ---
	// 禁止不定长编码 (Indefinite Length)
	IndefLength: cbor.IndefLengthForbidden,

	// 强制检查 Map Key 重复
	DupMapKey: cbor.DupMapKeyEnforcedAPF,

	// 禁止自动解析 Bignum Tag (Tag 2/3) -> 必须手动处理或拒绝
	BignumTag: cbor.BignumTagForbidden,

	// 忽略时间 Tag (Tag 0/1)，强制解析为数字或字符串，由 Struct 类型决定
	TimeTag: cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// EncodeObject 用确定性编码序列化任意结构体
func EncodeObject(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return data, nil
}

// DecodeObject 通用的解码函数 (供外部使用)
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v) // 使用 dm 解码
}

// CalculateBlobHash 计算原始字节的 SHA-256
func CalculateBlobHash(data []byte) types.Hash {
	hashBytes := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(hashBytes[:]))
}

// NameHash 计算名字的摘要，Manifest 以它为存储 Key
// 输入先规范化，"/a/b" 和 "/a//b/" 得到同一个 Hash
func NameHash(name Name) types.Hash {
	return CalculateBlobHash([]byte(name.String()))
}
