package ability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
)

func callRequest(connect Connection) *Request {
	req := pageRequest("com.example.music", "Player")
	req.CallType = CallRequestType
	req.Connect = connect
	req.CallerUID = 20010
	return req
}

func newStub() *ipc.LocalObject {
	return ipc.NewLocalObject("stub", ipc.HandlerFunc(
		func(context.Context, uint32, *ipc.Parcel) (*ipc.Parcel, error) { return nil, nil }))
}

func TestResolveRejectsNonCallRequests(t *testing.T) {
	r := NewRecord(testEnv(&fakeHandler{}, &fakeApps{}), pageRequest("com.example.music", "Player"))
	conn := newFakeConnection()

	req := callRequest(conn)
	req.CallType = InvalidCallType
	assert.Equal(t, NGInnerError, r.Resolve(req))

	req = callRequest(nil)
	assert.Equal(t, NGInnerError, r.Resolve(req))
	assert.Zero(t, r.CallContainer().Len())
}

func TestResolveIsIdempotentOnceRequested(t *testing.T) {
	r := NewRecord(testEnv(&fakeHandler{}, &fakeApps{}), pageRequest("com.example.music", "Player"))
	conn := newFakeConnection()
	req := callRequest(conn)

	assert.Equal(t, OKNoRemoteObj, r.Resolve(req))
	require.Equal(t, 1, r.CallContainer().Len())
	assert.True(t, r.IsNeedToCallRequest())
	assert.True(t, r.CallContainer().GetCallRecord(conn).IsCallState(CallRequesting))

	stub := newStub()
	require.True(t, r.CallRequestDone(stub))
	assert.Equal(t, 1, conn.connectCount())
	assert.False(t, r.IsNeedToCallRequest())

	for i := 0; i < 2; i++ {
		assert.Equal(t, OKHasRemoteObj, r.Resolve(req))
	}
	assert.Equal(t, 1, r.CallContainer().Len(), "no second binding for the same connection")
	assert.Equal(t, 3, conn.connectCount())
	assert.Equal(t, stub.ID(), conn.lastRemote.ID())
}

func TestResolveAfterStubDeathWaitsAgain(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecord(testEnv(h, &fakeApps{}), pageRequest("com.example.music", "Player"))
	conn := newFakeConnection()
	req := callRequest(conn)

	r.Resolve(req)
	stub := newStub()
	r.CallRequestDone(stub)
	stub.Kill()

	h.drain()
	require.Len(t, h.callsDied, 1)
	assert.Equal(t, r.RecordID(), h.callsDied[0].ServiceID())
	assert.Equal(t, OKNoRemoteObj, r.Resolve(req))
}

func TestCallConnectionDeathRemovesBinding(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecord(testEnv(h, &fakeApps{}), pageRequest("com.example.music", "Player"))
	conn := newFakeConnection()
	r.Resolve(callRequest(conn))
	require.Equal(t, 1, r.CallContainer().Len())

	conn.obj.Kill()
	assert.Zero(t, r.CallContainer().Len())
	h.drain()
	assert.Len(t, h.callsDied, 1)
}

func TestReleaseNotifiesCaller(t *testing.T) {
	r := NewRecord(testEnv(&fakeHandler{}, &fakeApps{}), pageRequest("com.example.music", "Player"))
	conn := newFakeConnection()
	r.Resolve(callRequest(conn))

	assert.True(t, r.Release(conn))
	assert.Equal(t, 1, conn.disconnects)
	assert.False(t, r.Release(conn))
}
