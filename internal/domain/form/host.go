package form

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// HostDescriptor leads every request sent to a form host.
const HostDescriptor = "ohos.appexecfwk.FormHost"

const (
	codeHostOnAcquired uint32 = iota + 1
	codeHostOnUpdate
	codeHostOnUninstall
	codeHostOnAcquireState
)

// hostCallTimeout bounds a single callback to a host process.
const hostCallTimeout = 3 * time.Second

// HostClient is the callback surface of a form host.
type HostClient interface {
	OnAcquired(ctx context.Context, info JsInfo) error
	OnUpdate(ctx context.Context, info JsInfo) error
	OnUninstall(ctx context.Context, formIDs []int64) error
	OnAcquireState(ctx context.Context, state State, want *types.Want) error
}

// HostProxy sends host callbacks over a remote object.
type HostProxy struct {
	remote ipc.RemoteObject
}

// NewHostProxy wraps remote.
func NewHostProxy(remote ipc.RemoteObject) *HostProxy {
	return &HostProxy{remote: remote}
}

func (p *HostProxy) send(ctx context.Context, code uint32, fill func(*ipc.Parcel) error) error {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(HostDescriptor)
	if err := fill(data); err != nil {
		return err
	}
	if _, err := p.remote.SendRequest(ctx, code, data); err != nil {
		return fmt.Errorf("form host request %d: %w", code, err)
	}
	return nil
}

func writeJsInfo(data *ipc.Parcel, info JsInfo) error {
	raw, err := sonic.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode form js info: %w", err)
	}
	data.WriteBytes(raw)
	return nil
}

func (p *HostProxy) OnAcquired(ctx context.Context, info JsInfo) error {
	return p.send(ctx, codeHostOnAcquired, func(data *ipc.Parcel) error { return writeJsInfo(data, info) })
}

func (p *HostProxy) OnUpdate(ctx context.Context, info JsInfo) error {
	return p.send(ctx, codeHostOnUpdate, func(data *ipc.Parcel) error { return writeJsInfo(data, info) })
}

func (p *HostProxy) OnUninstall(ctx context.Context, formIDs []int64) error {
	return p.send(ctx, codeHostOnUninstall, func(data *ipc.Parcel) error {
		data.WriteInt64List(formIDs)
		return nil
	})
}

func (p *HostProxy) OnAcquireState(ctx context.Context, state State, want *types.Want) error {
	return p.send(ctx, codeHostOnAcquireState, func(data *ipc.Parcel) error {
		data.WriteInt32(int32(state))
		return data.WriteWant(want)
	})
}

// NewHostStub serves host callbacks with h.
func NewHostStub(h HostClient) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
		if err := data.EnforceInterface(HostDescriptor); err != nil {
			return nil, err
		}
		var err error
		switch code {
		case codeHostOnAcquired, codeHostOnUpdate:
			var info JsInfo
			if info, err = readJsInfo(data); err == nil {
				if code == codeHostOnAcquired {
					err = h.OnAcquired(ctx, info)
				} else {
					err = h.OnUpdate(ctx, info)
				}
			}
		case codeHostOnUninstall:
			var ids []int64
			if ids, err = data.ReadInt64List(); err == nil {
				err = h.OnUninstall(ctx, ids)
			}
		case codeHostOnAcquireState:
			var state int32
			var want *types.Want
			if state, err = data.ReadInt32(); err == nil {
				if want, err = data.ReadWant(); err == nil {
					err = h.OnAcquireState(ctx, State(state), want)
				}
			}
		default:
			return nil, errcode.Newf(errcode.InvalidParam, "FormHostStub", "unknown code %d", code)
		}
		if err != nil {
			return nil, err
		}
		return ipc.NewParcel(), nil
	})
}

func readJsInfo(data *ipc.Parcel) (JsInfo, error) {
	raw, err := data.ReadBytes()
	if err != nil {
		return JsInfo{}, err
	}
	var info JsInfo
	if err := sonic.Unmarshal(raw, &info); err != nil {
		return JsInfo{}, errcode.Wrap(errcode.InvalidParam, "FormHostStub", err)
	}
	return info, nil
}

// HostRecord tracks the forms one host client holds and how each should
// be refreshed.
type HostRecord struct {
	callerUID  int32
	hostBundle string
	remote     ipc.RemoteObject
	client     HostClient
	death      *ipc.DeathRecipient
	tasks      *taskqueue.Queue
	logger     *zap.Logger

	mu           sync.Mutex
	forms        map[int64]bool // form id -> refresh enabled
	enableUpdate map[int64]bool
	needRefresh  map[int64]bool
}

// NewHostRecord binds a host to remote and watches it for death.
// Callbacks to the host run on tasks when it is set.
func NewHostRecord(info *ItemInfo, remote ipc.RemoteObject, callerUID int32, onDied func(ipc.RemoteObject), tasks *taskqueue.Queue, logger *zap.Logger) *HostRecord {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HostRecord{
		callerUID:    callerUID,
		hostBundle:   info.HostBundle,
		remote:       remote,
		client:       NewHostProxy(remote),
		tasks:        tasks,
		logger:       logger,
		forms:        make(map[int64]bool),
		enableUpdate: make(map[int64]bool),
		needRefresh:  make(map[int64]bool),
	}
	if onDied != nil {
		h.death = ipc.NewDeathRecipient(onDied)
		remote.AddDeathRecipient(h.death)
	}
	return h
}

func (h *HostRecord) CallerUID() int32            { return h.callerUID }
func (h *HostRecord) HostBundle() string          { return h.hostBundle }
func (h *HostRecord) Remote() ipc.RemoteObject    { return h.remote }
func (h *HostRecord) SetClient(client HostClient) { h.client = client }

// IsRemote reports whether remote is this host's client object.
func (h *HostRecord) IsRemote(remote ipc.RemoteObject) bool {
	return remote != nil && h.remote != nil && remote.ID() == h.remote.ID()
}

// AddForm attaches a form with refresh enabled.
func (h *HostRecord) AddForm(formID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.forms[formID]; !ok {
		h.forms[formID] = true
	}
}

// DelForm detaches a form.
func (h *HostRecord) DelForm(formID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.forms, formID)
	delete(h.enableUpdate, formID)
	delete(h.needRefresh, formID)
}

func (h *HostRecord) IsEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.forms) == 0
}

func (h *HostRecord) Contains(formID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.forms[formID]
	return ok
}

// FormIDs returns the attached form ids.
func (h *HostRecord) FormIDs() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int64, 0, len(h.forms))
	for id := range h.forms {
		ids = append(ids, id)
	}
	return ids
}

func (h *HostRecord) SetEnableRefresh(formID int64, flag bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.forms[formID]; ok {
		h.forms[formID] = flag
	}
}

func (h *HostRecord) IsEnableRefresh(formID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forms[formID]
}

func (h *HostRecord) SetEnableUpdate(formID int64, flag bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.forms[formID]; !ok {
		h.logger.Warn("set enable update on unknown form", zap.Int64("form_id", formID))
		return
	}
	h.enableUpdate[formID] = flag
}

func (h *HostRecord) IsEnableUpdate(formID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enableUpdate[formID]
}

func (h *HostRecord) SetNeedRefresh(formID int64, flag bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.needRefresh[formID] = flag
}

func (h *HostRecord) IsNeedRefresh(formID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.needRefresh[formID]
}

// OnAcquire delivers the first data for a form.
func (h *HostRecord) OnAcquire(info JsInfo) {
	h.dispatch("OnAcquired", func(ctx context.Context) error { return h.client.OnAcquired(ctx, info) })
}

// OnUpdate delivers refreshed data for a form.
func (h *HostRecord) OnUpdate(info JsInfo) {
	h.dispatch("OnUpdate", func(ctx context.Context) error { return h.client.OnUpdate(ctx, info) })
}

// OnFormUninstalled tells the host its forms are gone.
func (h *HostRecord) OnFormUninstalled(formIDs []int64) {
	h.dispatch("OnUninstall", func(ctx context.Context) error { return h.client.OnUninstall(ctx, formIDs) })
}

// OnAcquireState delivers a form state answer.
func (h *HostRecord) OnAcquireState(state State, want *types.Want) {
	h.dispatch("OnAcquireState", func(ctx context.Context) error { return h.client.OnAcquireState(ctx, state, want) })
}

func (h *HostRecord) dispatch(op string, call func(ctx context.Context) error) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
		defer cancel()
		if err := call(ctx); err != nil {
			h.logger.Error("form host callback failed",
				zap.String("op", op),
				zap.String("host", h.hostBundle),
				zap.Error(err))
		}
	}
	if h.tasks == nil {
		run()
		return
	}
	if err := h.tasks.Post(run); err != nil {
		h.logger.Warn("form host callback dropped", zap.String("op", op), zap.Error(err))
	}
}

// CleanResource stops watching the host.
func (h *HostRecord) CleanResource() {
	if h.remote != nil && h.death != nil {
		h.remote.RemoveDeathRecipient(h.death)
		h.death = nil
	}
}
