// Package command 定义节点之间与客户端使用的命令参数、响应以及命令名的构造与解析
package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/security"
	"ndnrepo/pkg/transport"
	"ndnrepo/pkg/types"
)

// 命令动词，命令名为 <节点前缀>/<动词>
const (
	VerbInsert         = "insert"
	VerbCheck          = "check"
	VerbDelete         = "delete"
	VerbManifest       = "manifest"
	VerbDeleteManifest = "deleteManifest"
	VerbDeleteData     = "deleteData"
	VerbGet            = "get"
	VerbFind           = "find"
	VerbData           = "data"
)

// ShardParam 是 manifest 命令携带的分片登记
type ShardParam struct {
	Name  string `cbor:"name" validate:"required"`
	Start uint64 `cbor:"start"`
	End   uint64 `cbor:"end" validate:"gtefield=Start"`
}

// Parameter 是所有命令共用的参数对象，各命令只使用其中一部分
type Parameter struct {
	Name               string      `cbor:"name,omitempty"`
	StartBlockID       *uint64     `cbor:"start,omitempty"`
	EndBlockID         *uint64     `cbor:"end,omitempty"`
	ProcessID          *uint64     `cbor:"pid,omitempty"`
	InterestLifetimeMs *int64      `cbor:"lifetime,omitempty" validate:"omitempty,gt=0"`
	MinSuffix          *int        `cbor:"minSuffix,omitempty" validate:"omitempty,gte=0"`
	MaxSuffix          *int        `cbor:"maxSuffix,omitempty" validate:"omitempty,gte=0"`
	Exclude            []string    `cbor:"exclude,omitempty"`
	ChildSelector      int         `cbor:"child,omitempty"`
	ForwardingHint     string      `cbor:"hint,omitempty"`
	Shard              *ShardParam `cbor:"shard,omitempty" validate:"omitempty"`
	// Holder 登记单包对象时携带保存它的成员前缀
	Holder string `cbor:"holder,omitempty"`
}

// HasSelectors 是否携带任何选择器
func (p *Parameter) HasSelectors() bool {
	return p.MinSuffix != nil || p.MaxSuffix != nil || len(p.Exclude) > 0 || p.ChildSelector != 0
}

func (p *Parameter) HasBlockIDs() bool {
	return p.StartBlockID != nil || p.EndBlockID != nil
}

// Selectors 转换为索引的选择器
func (p *Parameter) Selectors() index.Selectors {
	return index.Selectors{
		MinSuffixComponents: p.MinSuffix,
		MaxSuffixComponents: p.MaxSuffix,
		Exclude:             p.Exclude,
		ChildSelector:       p.ChildSelector,
	}
}

// ObjectName 解析 Name 字段
func (p *Parameter) ObjectName() (core.Name, error) {
	if p.Name == "" {
		return nil, Malformed("missing name")
	}
	n, err := core.ParseName(p.Name)
	if err != nil {
		return nil, Malformed("bad name: %v", err)
	}
	return n, nil
}

// Hint 解析转发提示 (可能为空)
func (p *Parameter) Hint() (core.Name, error) {
	if p.ForwardingHint == "" {
		return nil, nil
	}
	n, err := core.ParseName(p.ForwardingHint)
	if err != nil {
		return nil, Malformed("bad forwarding hint: %v", err)
	}
	return n, nil
}

// Lifetime 返回参数里的兴趣包生存期，未设置时返回 fallback
func (p *Parameter) Lifetime(fallback time.Duration) time.Duration {
	if p.InterestLifetimeMs == nil {
		return fallback
	}
	return time.Duration(*p.InterestLifetimeMs) * time.Millisecond
}

// Response 是所有命令的回复
type Response struct {
	StatusCode   types.StatusCode `cbor:"status"`
	ProcessID    types.ProcessID  `cbor:"pid,omitempty"`
	InsertNum    uint64           `cbor:"insertNum,omitempty"`
	DeleteNum    uint64           `cbor:"deleteNum,omitempty"`
	StartBlockID *uint64          `cbor:"start,omitempty"`
	EndBlockID   *uint64          `cbor:"end,omitempty"`
	Manifest     string           `cbor:"manifest,omitempty"`
	Message      string           `cbor:"msg,omitempty"`
}

func (r *Response) Encode() []byte {
	// Response 只包含基本类型，编码不会失败
	data, _ := core.EncodeObject(r)
	return data
}

func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := core.DecodeObject(data, &r); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &r, nil
}

// ProtocolError 表示命令参数非法或自相矛盾，直接以状态码回复，不创建任何状态
type ProtocolError struct {
	Status types.StatusCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Status, e.Reason)
}

func Malformed(format string, args ...any) error {
	return &ProtocolError{Status: types.StatusMalformed, Reason: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &ProtocolError{Status: types.StatusConflict, Reason: fmt.Sprintf(format, args...)}
}

// StatusOf 把错误映射为状态码，非协议错误一律视为失败
func StatusOf(err error) types.StatusCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return types.StatusFailed
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Extract 从请求中解出参数并做通用校验
func Extract(in transport.Interest) (*Parameter, error) {
	if len(in.Payload) == 0 {
		return nil, Malformed("missing parameters")
	}
	var p Parameter
	if err := core.DecodeObject(in.Payload, &p); err != nil {
		return nil, Malformed("undecodable parameters: %v", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, Malformed("invalid parameters: %v", err)
	}

	// 1. 起止块号必须有序
	if p.StartBlockID != nil && p.EndBlockID != nil && *p.StartBlockID > *p.EndBlockID {
		return nil, Conflict("start block %d is after end block %d", *p.StartBlockID, *p.EndBlockID)
	}
	// 2. 选择器与块号互斥
	if p.HasSelectors() && p.HasBlockIDs() {
		return nil, Conflict("selectors cannot be combined with block ids")
	}
	return &p, nil
}

// DataName 返回从 member 读取 name 时使用的请求名 (<member>/data/<name>)
func DataName(member, name core.Name) core.Name {
	return member.Append(VerbData).AppendName(name)
}

// NewInterest 构造 <target>/<verb> 命令，并用 signer 签名
func NewInterest(target core.Name, verb string, p *Parameter, lifetime time.Duration, signer security.Signer) (transport.Interest, error) {
	payload, err := core.EncodeObject(p)
	if err != nil {
		return transport.Interest{}, fmt.Errorf("failed to encode parameters: %w", err)
	}
	in := transport.Interest{
		Name:     target.Append(verb),
		Payload:  payload,
		Lifetime: lifetime,
	}
	if signer == nil {
		return in, nil
	}
	return signer.Sign(in)
}
