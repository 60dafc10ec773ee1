package ipc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

func TestParcelSequentialValues(t *testing.T) {
	p := NewParcel()
	p.WriteInterfaceToken("test.IFoo")
	p.WriteInt32(-7)
	p.WriteInt64(math.MaxInt64 - 3)
	p.WriteBool(true)
	p.WriteString("hello")
	p.WriteBytes([]byte{0, 1, 2})
	p.WriteStringList([]string{"a", "b"})
	p.WriteInt64List([]int64{1 << 62, -1})

	b, err := p.Marshal()
	require.NoError(t, err)
	in, err := Unmarshal(b)
	require.NoError(t, err)

	require.NoError(t, in.EnforceInterface("test.IFoo"))
	i32, err := in.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i32)
	i64, err := in.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-3), i64)
	ok, err := in.ReadBool()
	require.NoError(t, err)
	assert.True(t, ok)
	s, err := in.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	raw, err := in.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, raw)
	strs, err := in.ReadStringList()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs)
	ids, err := in.ReadInt64List()
	require.NoError(t, err)
	assert.Equal(t, []int64{1 << 62, -1}, ids)

	_, err = in.ReadString()
	assert.ErrorIs(t, err, ErrParcelUnderflow)
}

func TestEnforceInterfaceMismatch(t *testing.T) {
	p := NewParcel()
	p.WriteInterfaceToken("test.IFoo")

	err := p.EnforceInterface("test.IBar")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDescriptorMismatch)
	assert.True(t, errcode.Is(err, errcode.InvalidState))
}

func TestEnforceInterfaceEmptyParcel(t *testing.T) {
	err := NewParcel().EnforceInterface("test.IFoo")
	assert.True(t, errcode.Is(err, errcode.InvalidState))
}

func TestParcelTypeMismatch(t *testing.T) {
	p := NewParcel()
	p.WriteBool(false)
	_, err := p.ReadString()
	assert.ErrorIs(t, err, ErrParcelType)
}

func TestParcelWant(t *testing.T) {
	w := types.NewWant("com.example", "Main")
	w.Element.ModuleName = "entry"
	w.Action = "action.view"
	w.Flags = types.FlagAuthReadURIPermission
	w.Entities = []string{"entity.home"}
	w.SetParam("ohos.extra.param.key.form_identity", int64(1)<<60|5).
		SetParam("name", "card").
		SetParam("temporary", true)

	p := NewParcel()
	require.NoError(t, p.WriteWant(w))
	b, err := p.Marshal()
	require.NoError(t, err)
	in, err := Unmarshal(b)
	require.NoError(t, err)

	got, err := in.ReadWant()
	require.NoError(t, err)
	assert.Equal(t, w.Element, got.Element)
	assert.Equal(t, "action.view", got.Action)
	assert.True(t, got.HasFlag(types.FlagAuthReadURIPermission))
	assert.Equal(t, []string{"entity.home"}, got.Entities)
	assert.Equal(t, int64(1)<<60|5, got.Int64Param("ohos.extra.param.key.form_identity", 0))
	assert.Equal(t, "card", got.StringParam("name", ""))
	assert.True(t, got.BoolParam("temporary", false))
}

func TestParcelRemoteObject(t *testing.T) {
	reg := NewRegistry()
	obj := NewLocalObject("test", HandlerFunc(nil))
	reg.Register(obj)

	p := NewParcel()
	p.WriteRemoteObject(obj)
	p.WriteRemoteObject(nil)

	got, err := p.ReadRemoteObject(reg)
	require.NoError(t, err)
	assert.Same(t, obj, got)

	none, err := p.ReadRemoteObject(reg)
	require.NoError(t, err)
	assert.Nil(t, none)
}
