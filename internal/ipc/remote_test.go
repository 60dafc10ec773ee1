package ipc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, code uint32, data *Parcel) (*Parcel, error) {
		if code == 99 {
			return nil, errors.New("boom")
		}
		s, err := data.ReadString()
		if err != nil {
			return nil, err
		}
		reply := NewParcel()
		reply.WriteInt32(int32(code))
		reply.WriteString(s + "!")
		reply.WriteInt32(CallerFrom(ctx).UID)
		return reply, nil
	})
}

func TestLocalObjectSendRequest(t *testing.T) {
	obj := NewLocalObject("echo", echoHandler())

	req := NewParcel()
	req.WriteString("hi")
	ctx := WithCaller(context.Background(), Caller{UID: 20010001})
	reply, err := obj.SendRequest(ctx, 3, req)
	require.NoError(t, err)

	code, _ := reply.ReadInt32()
	s, _ := reply.ReadString()
	uid, _ := reply.ReadInt32()
	assert.Equal(t, int32(3), code)
	assert.Equal(t, "hi!", s)
	assert.Equal(t, int32(20010001), uid)

	_, err = obj.SendRequest(ctx, 99, req)
	assert.EqualError(t, err, "boom")
}

func TestLocalObjectDeathFiresOnce(t *testing.T) {
	obj := NewLocalObject("echo", echoHandler())

	var fired []RemoteObject
	r := NewDeathRecipient(func(o RemoteObject) { fired = append(fired, o) })
	removed := NewDeathRecipient(func(RemoteObject) { t.Fatal("removed recipient fired") })

	require.True(t, obj.AddDeathRecipient(r))
	require.True(t, obj.AddDeathRecipient(r))
	require.True(t, obj.AddDeathRecipient(removed))
	require.True(t, obj.RemoveDeathRecipient(removed))

	obj.Kill()
	obj.Kill()

	require.Len(t, fired, 1)
	assert.Same(t, obj, fired[0])
	assert.True(t, obj.IsDead())
	assert.False(t, obj.AddDeathRecipient(NewDeathRecipient(nil)))

	_, err := obj.SendRequest(context.Background(), 1, NewParcel())
	assert.ErrorIs(t, err, ErrDeadObject)
}

func TestUserID(t *testing.T) {
	assert.Equal(t, int32(0), UserID(1000))
	assert.Equal(t, int32(100), UserID(20010001))
}

func TestCallerFromEmptyContext(t *testing.T) {
	assert.Equal(t, Caller{}, CallerFrom(context.Background()))
}
