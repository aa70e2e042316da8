// pkg/types/common.go
package types

import "strconv"

// Hash 代表 Manifest 的唯一标识符 (名字的 SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == 64 } // 简单的长度检查

// SegmentNo 是分段编号，从 0 开始
type SegmentNo = uint64

// ProcessID 是一次多轮命令执行的标识 (随机 64 位)
type ProcessID uint64

func (p ProcessID) String() string { return strconv.FormatUint(uint64(p), 10) }

// StatusCode 是命令响应的状态码
type StatusCode int

const (
	StatusAccepted         StatusCode = 100 // 已受理
	StatusOK               StatusCode = 200 // 完成
	StatusInProgress       StatusCode = 300 // 进行中 (供 check 查询)
	StatusValidationFailed StatusCode = 401 // 签名/策略校验失败
	StatusConflict         StatusCode = 402 // 参数冲突
	StatusMalformed        StatusCode = 403 // 参数缺失或格式错误
	StatusNotFound         StatusCode = 404 // 未知进程 / 对象不存在
	StatusFailed           StatusCode = 405 // 超时、截止时间已过或失败
)

func (s StatusCode) Int() int { return int(s) }
