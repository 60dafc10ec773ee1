package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

const (
	serviceName    = "framework.ipc.Transport"
	transactMethod = "/" + serviceName + "/Transact"

	mdCallerUID = "x-caller-uid"
	mdCallerPID = "x-caller-pid"

	maxMessageSize = 10 * 1024 * 1024
)

// transportServer is the single unary method every stub is reached through.
type transportServer interface {
	Transact(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transact", Handler: transactHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ipc/transport",
}

func transactHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).Transact(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: transactMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(transportServer).Transact(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ============================================================================
// Server
// ============================================================================

// Server exposes registered handlers over gRPC.
type Server struct {
	grpc   *grpc.Server
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[id.ObjectID]Handler
}

// NewServer creates a server. Extra options are appended to the defaults.
func NewServer(logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	s := &Server{
		grpc:     grpc.NewServer(append(base, opts...)...),
		logger:   logger,
		handlers: make(map[id.ObjectID]Handler),
	}
	s.grpc.RegisterService(&transportServiceDesc, s)
	return s
}

// Register exposes h under oid.
func (s *Server) Register(oid id.ObjectID, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[oid] = h
}

// Unregister stops exposing oid.
func (s *Server) Unregister(oid id.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, oid)
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop stops the server gracefully.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// Transact dispatches one request to its stub.
func (s *Server) Transact(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	oid := id.ObjectID(fields["object"].GetStringValue())
	code := uint32(fields["code"].GetNumberValue())

	s.mu.RLock()
	h, ok := s.handlers[oid]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no stub registered for %s", oid)
	}

	ctx = WithCaller(ctx, callerFromMetadata(ctx))
	data := FromList(fields["data"].GetListValue())

	reply, err := h.OnRemoteRequest(ctx, code, data)
	if err != nil {
		s.logger.Debug("stub returned error",
			zap.String("object", oid.String()),
			zap.Uint32("code", code),
			zap.String("request_id", fields["request_id"].GetStringValue()),
			zap.Error(err))
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"error_code": structpb.NewNumberValue(float64(errcode.KindOf(err).Code())),
			"error":      structpb.NewStringValue(err.Error()),
		}}, nil
	}
	if reply == nil {
		reply = NewParcel()
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"data": structpb.NewListValue(reply.List()),
	}}, nil
}

func callerFromMetadata(ctx context.Context) Caller {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Caller{}
	}
	var c Caller
	if v := md.Get(mdCallerUID); len(v) > 0 {
		if n, err := strconv.ParseInt(v[0], 10, 32); err == nil {
			c.UID = int32(n)
		}
	}
	if v := md.Get(mdCallerPID); len(v) > 0 {
		if n, err := strconv.ParseInt(v[0], 10, 32); err == nil {
			c.PID = int32(n)
		}
	}
	return c
}

// ============================================================================
// Client
// ============================================================================

// Conn is a client connection to a remote Server. Every object obtained
// from a Conn dies when the connection shuts down or fails.
type Conn struct {
	cc     *grpc.ClientConn
	caller Caller
	logger *zap.Logger

	mu      sync.Mutex
	dead    bool
	proxies map[id.ObjectID]*proxy
	done    chan struct{}
	cancel  context.CancelFunc
}

// Dial connects to addr as caller. Extra options are appended to the
// defaults.
func Dial(addr string, caller Caller, logger *zap.Logger, opts ...grpc.DialOption) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithIdleTimeout(0),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	cc, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cc:      cc,
		caller:  caller,
		logger:  logger.With(zap.String("target", addr)),
		proxies: make(map[id.ObjectID]*proxy),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	cc.Connect()
	go c.watch(ctx)
	return c, nil
}

// watch marks the connection dead once it reaches a failure state after
// having been ready, or on shutdown.
func (c *Conn) watch(ctx context.Context) {
	defer close(c.done)
	ready := false
	for {
		state := c.cc.GetState()
		switch state {
		case connectivity.Ready:
			ready = true
		case connectivity.Shutdown:
			c.markDead()
			return
		case connectivity.TransientFailure, connectivity.Idle:
			if ready {
				c.markDead()
				return
			}
		}
		if !c.cc.WaitForStateChange(ctx, state) {
			c.markDead()
			return
		}
	}
}

func (c *Conn) markDead() {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	proxies := make([]*proxy, 0, len(c.proxies))
	for _, p := range c.proxies {
		proxies = append(proxies, p)
	}
	c.mu.Unlock()

	c.logger.Info("remote connection died", zap.Int("objects", len(proxies)))
	for _, p := range proxies {
		p.deaths.fire(p)
	}
}

// IsDead reports whether the connection shut down or failed.
func (c *Conn) IsDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Object returns the proxy for a remote stub.
func (c *Conn) Object(oid id.ObjectID) RemoteObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.proxies[oid]; ok {
		return p
	}
	p := &proxy{conn: c, oid: oid}
	if c.dead {
		p.deaths.fire(p)
	}
	c.proxies[oid] = p
	return p
}

// Resolve implements Resolver. Any identity resolves to a proxy.
func (c *Conn) Resolve(oid id.ObjectID) (RemoteObject, bool) {
	return c.Object(oid), true
}

// Close closes the connection and kills every proxy.
func (c *Conn) Close() error {
	err := c.cc.Close()
	c.cancel()
	<-c.done
	c.markDead()
	return err
}

type proxy struct {
	conn   *Conn
	oid    id.ObjectID
	deaths deathList
}

func (p *proxy) ID() id.ObjectID { return p.oid }

func (p *proxy) SendRequest(ctx context.Context, code uint32, data *Parcel) (*Parcel, error) {
	if p.deaths.isDead() {
		return nil, ErrDeadObject
	}
	if data == nil {
		data = NewParcel()
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"object":     structpb.NewStringValue(string(p.oid)),
		"code":       structpb.NewNumberValue(float64(code)),
		"request_id": structpb.NewStringValue(string(id.NewRequestID())),
		"data":       structpb.NewListValue(data.List()),
	}}
	ctx = metadata.AppendToOutgoingContext(ctx,
		mdCallerUID, strconv.FormatInt(int64(p.conn.caller.UID), 10),
		mdCallerPID, strconv.FormatInt(int64(p.conn.caller.PID), 10),
	)

	resp := new(structpb.Struct)
	if err := p.conn.cc.Invoke(ctx, transactMethod, req, resp); err != nil {
		if status.Code(err) == codes.Unavailable && p.deaths.isDead() {
			return nil, ErrDeadObject
		}
		return nil, err
	}
	fields := resp.GetFields()
	if msg, ok := fields["error"]; ok {
		kind := errcode.FromCode(int32(fields["error_code"].GetNumberValue()))
		return nil, errcode.Wrap(kind, "SendRequest", errors.New(msg.GetStringValue()))
	}
	return FromList(fields["data"].GetListValue()), nil
}

func (p *proxy) AddDeathRecipient(r *DeathRecipient) bool    { return p.deaths.add(r) }
func (p *proxy) RemoveDeathRecipient(r *DeathRecipient) bool { return p.deaths.remove(r) }
func (p *proxy) IsDead() bool                                { return p.deaths.isDead() }
