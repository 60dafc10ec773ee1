package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWantParams(t *testing.T) {
	w := NewWant("com.example", "MainAbility").
		SetParam("form_id", int64(42)).
		SetParam("dimension", float64(2)).
		SetParam("temp", true).
		SetParam("name", "widget").
		SetParam("numeric", "17")

	assert.Equal(t, int64(42), w.Int64Param("form_id", 0))
	assert.Equal(t, 2, w.IntParam("dimension", 0))
	assert.Equal(t, int64(17), w.Int64Param("numeric", 0))
	assert.True(t, w.BoolParam("temp", false))
	assert.Equal(t, "widget", w.StringParam("name", ""))
	assert.Equal(t, "fallback", w.StringParam("missing", "fallback"))
	assert.Equal(t, int64(-1), w.Int64Param("name", -1))

	w.RemoveParam("temp")
	assert.False(t, w.HasParam("temp"))
}

func TestWantCloneIsIndependent(t *testing.T) {
	w := NewWant("b", "a").SetParam("k", "v")
	c := w.Clone()
	c.SetParam("k", "changed")

	assert.Equal(t, "v", w.StringParam("k", ""))
	assert.Equal(t, "changed", c.StringParam("k", ""))

	var nilWant *Want
	assert.NotNil(t, nilWant.Clone())
}

func TestWantFlagsAndURI(t *testing.T) {
	w := NewWant("b", "a")
	w.Flags = FlagAuthReadURIPermission | FlagAuthWriteURIPermission
	w.SetParam("z", 1).SetParam("a", 2)

	assert.True(t, w.HasFlag(FlagAuthReadURIPermission))
	assert.False(t, w.HasFlag(FlagAbilityContinuation))
	assert.Equal(t, "#Intent;component=/b/a;flag=3;param.a=2;param.z=1;end", w.ToURI())
	assert.Equal(t, "b.a", w.Element.Key())
}
