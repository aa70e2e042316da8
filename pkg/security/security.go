// Package security 负责命令请求的签名与校验
//
// 签名是对 "名字 URI + 参数" 计算的 BLAKE2b-256 keyed MAC，作为名字的最后一个组件附加：
//
//	/<node>/<verb>/<0xFD || mac>
package security

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/blake2b"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/transport"
)

var (
	ErrUnsigned     = errors.New("interest carries no signature")
	ErrBadSignature = errors.New("signature verification failed")
	ErrKeyTooLong   = errors.New("signing key longer than 64 bytes")
)

const sigMarker = 0xFD

// Validator 对入站命令做签名/策略检查，结果通过回调返回
type Validator interface {
	Validate(in transport.Interest, onValid func(transport.Interest), onInvalid func(transport.Interest, error))
}

// Signer 为出站命令附加签名
type Signer interface {
	Sign(in transport.Interest) (transport.Interest, error)
}

// AcceptAll 不做任何校验 (未配置密钥时使用)
type AcceptAll struct{}

func (AcceptAll) Validate(in transport.Interest, onValid func(transport.Interest), _ func(transport.Interest, error)) {
	onValid(in)
}

// Unsigned 原样返回请求
type Unsigned struct{}

func (Unsigned) Sign(in transport.Interest) (transport.Interest, error) { return in, nil }

// KeyedMAC 用共享密钥实现签名与校验，集群内所有节点和客户端共用同一把密钥
type KeyedMAC struct {
	key []byte
}

var (
	_ Validator = (*KeyedMAC)(nil)
	_ Signer    = (*KeyedMAC)(nil)
)

func NewKeyedMAC(key []byte) (*KeyedMAC, error) {
	if len(key) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return &KeyedMAC{key: append([]byte(nil), key...)}, nil
}

func (k *KeyedMAC) mac(name core.Name, payload []byte) ([]byte, error) {
	h, err := blake2b.New256(k.key)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(name.String()))
	h.Write([]byte{0})
	h.Write(payload)
	return h.Sum(nil), nil
}

func (k *KeyedMAC) Sign(in transport.Interest) (transport.Interest, error) {
	sum, err := k.mac(in.Name, in.Payload)
	if err != nil {
		return in, err
	}
	in.Name = in.Name.Append(string(append([]byte{sigMarker}, sum...)))
	return in, nil
}

// Validate 校验通过后，交给 onValid 的是去掉签名组件的请求
func (k *KeyedMAC) Validate(in transport.Interest, onValid func(transport.Interest), onInvalid func(transport.Interest, error)) {
	unsigned, err := k.verify(in)
	if err != nil {
		onInvalid(in, err)
		return
	}
	onValid(unsigned)
}

func (k *KeyedMAC) verify(in transport.Interest) (transport.Interest, error) {
	if in.Name.Size() == 0 {
		return in, ErrUnsigned
	}
	last := in.Name.At(-1)
	if len(last) != 1+blake2b.Size256 || last[0] != sigMarker {
		return in, ErrUnsigned
	}

	stripped := in
	stripped.Name = in.Name.Prefix(-1)
	want, err := k.mac(stripped.Name, in.Payload)
	if err != nil {
		return in, err
	}
	if subtle.ConstantTimeCompare(want, []byte(last[1:])) != 1 {
		return in, ErrBadSignature
	}
	return stripped, nil
}

// New 根据密钥返回一对 Validator/Signer，空密钥表示关闭签名
func New(key string) (Validator, Signer, error) {
	if key == "" {
		return AcceptAll{}, Unsigned{}, nil
	}
	k, err := NewKeyedMAC([]byte(key))
	if err != nil {
		return nil, nil, err
	}
	return k, k, nil
}
