package ipc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

func startBufServer(t *testing.T) (*Server, *bufconn.Listener) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	return srv, lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener, caller Caller) *Conn {
	t.Helper()
	conn, err := Dial("passthrough:///bufnet", caller, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	return conn
}

func TestGRPCTransact(t *testing.T) {
	srv, lis := startBufServer(t)
	defer srv.Stop()
	srv.Register("echo", echoHandler())

	conn := dialBuf(t, lis, Caller{UID: 400000})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := NewParcel()
	req.WriteString("ping")
	reply, err := conn.Object("echo").SendRequest(ctx, 7, req)
	require.NoError(t, err)

	code, _ := reply.ReadInt32()
	s, _ := reply.ReadString()
	uid, _ := reply.ReadInt32()
	assert.Equal(t, int32(7), code)
	assert.Equal(t, "ping!", s)
	assert.Equal(t, int32(400000), uid)
}

func TestGRPCHandlerErrorKeepsKind(t *testing.T) {
	srv, lis := startBufServer(t)
	defer srv.Stop()
	srv.Register("strict", HandlerFunc(func(ctx context.Context, code uint32, data *Parcel) (*Parcel, error) {
		if err := data.EnforceInterface("test.IStrict"); err != nil {
			return nil, err
		}
		return NewParcel(), nil
	}))

	conn := dialBuf(t, lis, Caller{})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := NewParcel()
	req.WriteInterfaceToken("test.IOther")
	_, err := conn.Object("strict").SendRequest(ctx, 1, req)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.InvalidState))
}

func TestGRPCUnknownObject(t *testing.T) {
	srv, lis := startBufServer(t)
	defer srv.Stop()

	conn := dialBuf(t, lis, Caller{})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Object(id.ObjectID("missing")).SendRequest(ctx, 1, NewParcel())
	assert.Error(t, err)
}

func TestConnCloseKillsProxies(t *testing.T) {
	srv, lis := startBufServer(t)
	defer srv.Stop()

	conn := dialBuf(t, lis, Caller{})
	obj := conn.Object("echo")
	assert.Same(t, obj, conn.Object("echo"))

	died := make(chan struct{})
	require.True(t, obj.AddDeathRecipient(NewDeathRecipient(func(RemoteObject) { close(died) })))

	require.NoError(t, conn.Close())

	select {
	case <-died:
	case <-time.After(5 * time.Second):
		t.Fatal("death recipient not notified")
	}
	assert.True(t, obj.IsDead())
	_, err := obj.SendRequest(context.Background(), 1, NewParcel())
	assert.ErrorIs(t, err, ErrDeadObject)
}
