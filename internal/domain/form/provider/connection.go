package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// Connection kinds.
const (
	KindAcquire      = "acquire"
	KindDelete       = "delete"
	KindBatchDelete  = "batch_delete"
	KindRefresh      = "refresh"
	KindCastTemp     = "cast_temp"
	KindEventNotify  = "event_notify"
	KindMsgEvent     = "message_event"
	KindUpdate       = "update"
	KindAcquireState = "acquire_state"
)

// DefaultCallTimeout bounds the single provider call of a connection.
const DefaultCallTimeout = 5 * time.Second

type providerCall func(ctx context.Context, p Provider, want *types.Want, callback ipc.RemoteObject) error

// Connection is a one-shot bind to a form provider. Once the bind
// succeeds it registers with the supply callback and makes exactly one
// provider call. A failed bind does nothing.
type Connection struct {
	kind    string
	element types.ElementName
	want    *types.Want
	call    providerCall
	supply  *SupplyCallback
	object  *ipc.LocalObject
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics

	connectID atomic.Int64
	mu        sync.Mutex
	remote    ipc.RemoteObject
	done      chan struct{}
}

var _ ability.Connection = (*Connection)(nil)

// connDeps are shared by every connection a Mgr creates.
type connDeps struct {
	supply  *SupplyCallback
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

func (d connDeps) newConnection(kind, bundleName, abilityName string, want *types.Want, call providerCall) *Connection {
	if want == nil {
		want = &types.Want{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultCallTimeout
	}
	c := &Connection{
		kind:    kind,
		element: types.ElementName{BundleName: bundleName, AbilityName: abilityName},
		want:    want.Clone(),
		call:    call,
		supply:  d.supply,
		timeout: d.timeout,
		logger:  d.logger,
		metrics: d.metrics,
		done:    make(chan struct{}),
	}
	c.object = ipc.NewLocalObject("formconn", ipc.HandlerFunc(func(context.Context, uint32, *ipc.Parcel) (*ipc.Parcel, error) {
		return nil, errcode.New(errcode.InvalidParam, "FormAbilityConnection", "connection objects take no requests")
	}))
	return c
}

func (d connDeps) acquire(formID int64, info *form.ItemInfo, want *types.Want) *Connection {
	return d.newConnection(KindAcquire, info.ProviderBundle, info.AbilityName, want,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.AcquireProviderFormInfo(ctx, formID, w, cb)
		})
}

func (d connDeps) deleteOne(formID int64, bundleName, abilityName string) *Connection {
	return d.newConnection(KindDelete, bundleName, abilityName, nil,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.NotifyFormDelete(ctx, formID, w, cb)
		})
}

func (d connDeps) batchDelete(formIDs []int64, bundleName, abilityName string) *Connection {
	ids := append([]int64(nil), formIDs...)
	return d.newConnection(KindBatchDelete, bundleName, abilityName, nil,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.NotifyFormsDelete(ctx, ids, w, cb)
		})
}

func (d connDeps) refresh(formID int64, want *types.Want, bundleName, abilityName string) *Connection {
	return d.newConnection(KindRefresh, bundleName, abilityName, want,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.NotifyFormUpdate(ctx, formID, w, cb)
		})
}

func (d connDeps) castTemp(formID int64, bundleName, abilityName string) *Connection {
	return d.newConnection(KindCastTemp, bundleName, abilityName, nil,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.NotifyFormCastTempForm(ctx, formID, w, cb)
		})
}

func (d connDeps) eventNotify(formIDs []int64, visibleType int32, bundleName, abilityName string) *Connection {
	ids := append([]int64(nil), formIDs...)
	return d.newConnection(KindEventNotify, bundleName, abilityName, nil,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.EventNotify(ctx, ids, visibleType, w, cb)
		})
}

func (d connDeps) msgEvent(formID int64, want *types.Want, bundleName, abilityName string) *Connection {
	message := want.StringParam(form.ParamMessage, "")
	return d.newConnection(KindMsgEvent, bundleName, abilityName, want,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.FireFormEvent(ctx, formID, message, w, cb)
		})
}

func (d connDeps) update(formID int64, want *types.Want, bundleName, abilityName string) *Connection {
	return d.newConnection(KindUpdate, bundleName, abilityName, want,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.NotifyFormUpdate(ctx, formID, w, cb)
		})
}

func (d connDeps) acquireState(bundleName, abilityName string, wantArg *types.Want, providerKey string) *Connection {
	arg := wantArg.Clone()
	return d.newConnection(KindAcquireState, bundleName, abilityName, nil,
		func(ctx context.Context, p Provider, w *types.Want, cb ipc.RemoteObject) error {
			return p.AcquireState(ctx, arg, providerKey, w, cb)
		})
}

// Kind names the provider call this connection makes.
func (c *Connection) Kind() string { return c.kind }

// Element is the provider ability.
func (c *Connection) Element() types.ElementName { return c.element }

// ProviderKey is bundle::ability of the provider.
func (c *Connection) ProviderKey() string {
	return c.element.BundleName + "::" + c.element.AbilityName
}

// ConnectID is the supply table id, or 0 before the bind completes.
func (c *Connection) ConnectID() int64 { return c.connectID.Load() }

func (c *Connection) setConnectID(connectID int64) { c.connectID.Store(connectID) }

// Remote is the provider object, or nil before the bind completes.
func (c *Connection) Remote() ipc.RemoteObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connection) Object() ipc.RemoteObject { return c.object }

// Done is closed once the connection finished its provider call or gave up.
func (c *Connection) Done() <-chan struct{} { return c.done }

// OnAbilityConnectDone registers the connection and makes its call.
func (c *Connection) OnAbilityConnectDone(element types.ElementName, remote ipc.RemoteObject, resultCode int) {
	defer close(c.done)
	if resultCode != 0 || remote == nil {
		c.logger.Warn("form provider bind failed",
			zap.String("kind", c.kind),
			zap.String("provider", element.Key()),
			zap.Int("result", resultCode))
		c.metrics.RecordProviderCall(c.kind, "bind_failed")
		return
	}

	c.mu.Lock()
	c.remote = remote
	c.mu.Unlock()

	connectID := c.supply.AddConnection(c)
	want := c.want.Clone()
	want.Element = c.element
	want.SetParam(form.ParamConnectID, connectID)
	want.SetParam(form.ParamProviderKey, c.ProviderKey())

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.call(ctx, NewProxy(remote), want, c.supply.Object()); err != nil {
		c.logger.Error("form provider call failed",
			zap.String("kind", c.kind),
			zap.String("provider", element.Key()),
			zap.Int64("connect_id", connectID),
			zap.Error(err))
		c.metrics.RecordProviderCall(c.kind, "error")
		c.supply.RemoveConnection(connectID)
		return
	}
	c.metrics.RecordProviderCall(c.kind, "ok")
}

// OnAbilityDisconnectDone is informational; the supply table entry is
// already gone when a connection is disconnected.
func (c *Connection) OnAbilityDisconnectDone(element types.ElementName, resultCode int) {
	c.logger.Debug("form provider disconnected",
		zap.String("kind", c.kind),
		zap.String("provider", element.Key()),
		zap.Int64("connect_id", c.ConnectID()),
		zap.Int("result", resultCode))
}
