package core

import "fmt"

// Data 代表一个命名数据包，通常是某个大对象的一个分段
// 它是仓库里最小的存储单元
type Data struct {
	name     Name   `cbor:"-"`
	rawBytes []byte `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`
	NameURI string     `cbor:"n"`
	Content []byte     `cbor:"c"`

	// FinalBlockID 由生产者填写，标记整个对象的最后一个分段号
	FinalBlockID *uint64 `cbor:"f,omitempty"`
}

// NewData 构造并密封一个数据包
func NewData(name Name, content []byte, finalBlockID *uint64) (*Data, error) {
	d := &Data{
		name:         name,
		TypeVal:      TypeData,
		NameURI:      name.String(),
		Content:      content,
		FinalBlockID: finalBlockID,
	}
	b, err := EncodeObject(d)
	if err != nil {
		return nil, err
	}
	d.rawBytes = b
	return d, nil
}

// DecodeData 从存储或网络字节还原数据包
func DecodeData(raw []byte) (*Data, error) {
	var d Data
	if err := DecodeObject(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode data packet: %w", err)
	}
	if d.TypeVal != TypeData {
		return nil, fmt.Errorf("object is not a data packet, got: %q", d.TypeVal)
	}
	name, err := ParseName(d.NameURI)
	if err != nil {
		return nil, err
	}
	d.name = name
	d.rawBytes = raw
	return &d, nil
}

func (d *Data) Type() ObjectType { return TypeData }
func (d *Data) Key() string      { return d.NameURI }
func (d *Data) Bytes() []byte    { return d.rawBytes }
func (d *Data) Name() Name       { return d.name }
