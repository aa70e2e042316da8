package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/transport"
)

func validate(v Validator, in transport.Interest) (transport.Interest, error) {
	var (
		out transport.Interest
		got error
	)
	v.Validate(in, func(i transport.Interest) { out = i }, func(_ transport.Interest, err error) { got = err })
	return out, got
}

func TestKeyedMAC_SignAndValidate(t *testing.T) {
	v, s, err := New("cluster-secret")
	require.NoError(t, err)

	in := transport.Interest{Name: core.MustParseName("/repo/0/insert"), Payload: []byte("params")}
	signed, err := s.Sign(in)
	require.NoError(t, err)
	assert.Equal(t, in.Name.Size()+1, signed.Name.Size())

	out, err := validate(v, signed)
	require.NoError(t, err)
	assert.True(t, in.Name.Equal(out.Name), "signature component is stripped")
}

func TestKeyedMAC_Rejects(t *testing.T) {
	k, err := NewKeyedMAC([]byte("k1"))
	require.NoError(t, err)
	other, err := NewKeyedMAC([]byte("k2"))
	require.NoError(t, err)

	in := transport.Interest{Name: core.MustParseName("/repo/0/delete"), Payload: []byte("x")}

	_, err = validate(k, in)
	assert.ErrorIs(t, err, ErrUnsigned)

	signed, err := other.Sign(in)
	require.NoError(t, err)
	_, err = validate(k, signed)
	assert.ErrorIs(t, err, ErrBadSignature)

	// 篡改参数
	signed, err = k.Sign(in)
	require.NoError(t, err)
	signed.Payload = []byte("y")
	_, err = validate(k, signed)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestNew_EmptyKeyAcceptsAll(t *testing.T) {
	v, s, err := New("")
	require.NoError(t, err)
	in := transport.Interest{Name: core.MustParseName("/a")}
	signed, err := s.Sign(in)
	require.NoError(t, err)
	out, err := validate(v, signed)
	require.NoError(t, err)
	assert.True(t, in.Name.Equal(out.Name))

	_, err = NewKeyedMAC(make([]byte, 65))
	assert.ErrorIs(t, err, ErrKeyTooLong)
}
