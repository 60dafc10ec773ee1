package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// SupplyDescriptor leads every request sent to the supply callback.
const SupplyDescriptor = "ohos.appexecfwk.FormSupply"

const (
	codeSupplyOnAcquire uint32 = iota + 1
	codeSupplyOnEventHandle
	codeSupplyOnAcquireStateResult
)

// SupplyPrefix names the supply callback object.
const SupplyPrefix = "formsupply"

// Info is what a provider returns for a form.
type Info struct {
	FormID int64             `json:"form_id"`
	Data   string            `json:"data"`
	Images map[string][]byte `json:"images,omitempty"`
}

// ProviderData parses the payload.
func (i Info) ProviderData() (*form.ProviderData, error) {
	d, err := form.NewProviderData(i.Data)
	if err != nil {
		return nil, err
	}
	for name, blob := range i.Images {
		d.AddImage(name, blob)
	}
	return d, nil
}

// Supply is the surface providers answer through.
type Supply interface {
	OnAcquire(ctx context.Context, info Info, want *types.Want) error
	OnEventHandle(ctx context.Context, want *types.Want) error
	OnAcquireStateResult(ctx context.Context, state form.State, provider string, wantArg, want *types.Want) error
}

// SupplyProxy lets a provider answer over a remote object.
type SupplyProxy struct {
	remote ipc.RemoteObject
}

// NewSupplyProxy wraps remote.
func NewSupplyProxy(remote ipc.RemoteObject) *SupplyProxy {
	return &SupplyProxy{remote: remote}
}

func (p *SupplyProxy) send(ctx context.Context, code uint32, data *ipc.Parcel) error {
	if _, err := p.remote.SendRequest(ctx, code, data); err != nil {
		return fmt.Errorf("form supply request %d: %w", code, err)
	}
	return nil
}

func (p *SupplyProxy) OnAcquire(ctx context.Context, info Info, want *types.Want) error {
	raw, err := sonic.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode provider info: %w", err)
	}
	data := ipc.NewParcel()
	data.WriteInterfaceToken(SupplyDescriptor)
	data.WriteBytes(raw)
	if err := data.WriteWant(want); err != nil {
		return err
	}
	return p.send(ctx, codeSupplyOnAcquire, data)
}

func (p *SupplyProxy) OnEventHandle(ctx context.Context, want *types.Want) error {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(SupplyDescriptor)
	if err := data.WriteWant(want); err != nil {
		return err
	}
	return p.send(ctx, codeSupplyOnEventHandle, data)
}

func (p *SupplyProxy) OnAcquireStateResult(ctx context.Context, state form.State, provider string, wantArg, want *types.Want) error {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(SupplyDescriptor)
	data.WriteInt32(int32(state))
	data.WriteString(provider)
	if err := data.WriteWant(wantArg); err != nil {
		return err
	}
	if err := data.WriteWant(want); err != nil {
		return err
	}
	return p.send(ctx, codeSupplyOnAcquireStateResult, data)
}

// NewSupplyStub serves supply calls with s.
func NewSupplyStub(s Supply) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
		if err := data.EnforceInterface(SupplyDescriptor); err != nil {
			return nil, err
		}
		var err error
		switch code {
		case codeSupplyOnAcquire:
			var raw []byte
			if raw, err = data.ReadBytes(); err != nil {
				return nil, err
			}
			var info Info
			if err := sonic.Unmarshal(raw, &info); err != nil {
				return nil, errcode.Wrap(errcode.InvalidParam, "FormSupplyStub", err)
			}
			var want *types.Want
			if want, err = data.ReadWant(); err == nil {
				err = s.OnAcquire(ctx, info, want)
			}
		case codeSupplyOnEventHandle:
			var want *types.Want
			if want, err = data.ReadWant(); err == nil {
				err = s.OnEventHandle(ctx, want)
			}
		case codeSupplyOnAcquireStateResult:
			err = readStateResult(ctx, s, data)
		default:
			return nil, errcode.Newf(errcode.InvalidParam, "FormSupplyStub", "unknown code %d", code)
		}
		if err != nil {
			return nil, err
		}
		return ipc.NewParcel(), nil
	})
}

func readStateResult(ctx context.Context, s Supply, data *ipc.Parcel) error {
	state, err := data.ReadInt32()
	if err != nil {
		return err
	}
	key, err := data.ReadString()
	if err != nil {
		return err
	}
	wantArg, err := data.ReadWant()
	if err != nil {
		return err
	}
	want, err := data.ReadWant()
	if err != nil {
		return err
	}
	return s.OnAcquireStateResult(ctx, form.State(state), key, wantArg, want)
}

// supplyTarget is what the supply callback hands provider answers to.
type supplyTarget interface {
	AcquireForm(formID int64, info Info) error
	UpdateProviderForm(formID int64, info Info) error
	AcquireFormStateBack(state form.State, provider string, want *types.Want) error
}

// SupplyCallback receives provider answers and owns the table of live
// one-shot connections.
type SupplyCallback struct {
	target    supplyTarget
	connector Connector
	object    *ipc.LocalObject
	seq       *id.Sequence
	logger    *zap.Logger
	onChange  func(live int)

	mu      sync.Mutex
	conns   map[int64]*Connection
	watched map[id.ObjectID]*ipc.DeathRecipient
}

var _ Supply = (*SupplyCallback)(nil)

func newSupplyCallback(target supplyTarget, connector Connector, logger *zap.Logger, onChange func(int)) *SupplyCallback {
	s := &SupplyCallback{
		target:    target,
		connector: connector,
		seq:       id.NewSequence(0),
		logger:    logger,
		onChange:  onChange,
		conns:     make(map[int64]*Connection),
		watched:   make(map[id.ObjectID]*ipc.DeathRecipient),
	}
	s.object = ipc.NewLocalObject(SupplyPrefix, NewSupplyStub(s))
	return s
}

// Object is the remote object providers answer to.
func (s *SupplyCallback) Object() ipc.RemoteObject {
	return s.object
}

func connectIDOf(want *types.Want) int64 {
	return want.Int64Param(form.ParamConnectID, 0)
}

// OnAcquire stores a provider's answer to an acquire or recreate.
func (s *SupplyCallback) OnAcquire(_ context.Context, info Info, want *types.Want) error {
	defer s.RemoveConnection(connectIDOf(want))
	if want.IntParam(form.ParamAcquireType, 0) == form.AcquireTypeRecreate {
		return s.target.UpdateProviderForm(info.FormID, info)
	}
	return s.target.AcquireForm(info.FormID, info)
}

// OnEventHandle closes the connection of a provider event.
func (s *SupplyCallback) OnEventHandle(_ context.Context, want *types.Want) error {
	s.RemoveConnection(connectIDOf(want))
	return nil
}

// OnAcquireStateResult routes a form state answer to the asking host.
func (s *SupplyCallback) OnAcquireStateResult(_ context.Context, state form.State, provider string, wantArg, want *types.Want) error {
	s.RemoveConnection(connectIDOf(want))
	return s.target.AcquireFormStateBack(state, provider, wantArg)
}

// AddConnection registers conn under a fresh connect id and watches its
// provider for death.
func (s *SupplyCallback) AddConnection(conn *Connection) int64 {
	connectID := s.seq.Next()
	conn.setConnectID(connectID)

	s.mu.Lock()
	s.conns[connectID] = conn
	if remote := conn.Remote(); remote != nil {
		if _, ok := s.watched[remote.ID()]; !ok {
			recipient := ipc.NewDeathRecipient(s.OnProviderDied)
			if remote.AddDeathRecipient(recipient) {
				s.watched[remote.ID()] = recipient
			}
		}
	}
	live := len(s.conns)
	s.mu.Unlock()

	s.logger.Debug("form connection added",
		zap.Int64("connect_id", connectID),
		zap.String("kind", conn.Kind()),
		zap.String("provider", conn.ProviderKey()))
	s.changed(live)
	return connectID
}

// RemoveConnection drops a connection and disconnects it from its
// provider. Unknown ids are ignored.
func (s *SupplyCallback) RemoveConnection(connectID int64) {
	s.mu.Lock()
	conn, ok := s.conns[connectID]
	if ok {
		delete(s.conns, connectID)
		s.unwatchLocked(conn.Remote())
	}
	live := len(s.conns)
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.connector != nil {
		if err := s.connector.Disconnect(conn); err != nil {
			s.logger.Warn("disconnect form provider", zap.Int64("connect_id", connectID), zap.Error(err))
		}
	}
	s.changed(live)
}

func (s *SupplyCallback) unwatchLocked(remote ipc.RemoteObject) {
	if remote == nil {
		return
	}
	for _, c := range s.conns {
		if r := c.Remote(); r != nil && r.ID() == remote.ID() {
			return
		}
	}
	if recipient, ok := s.watched[remote.ID()]; ok {
		remote.RemoveDeathRecipient(recipient)
		delete(s.watched, remote.ID())
	}
}

// OnProviderDied drops every connection bound to remote.
func (s *SupplyCallback) OnProviderDied(remote ipc.RemoteObject) {
	s.mu.Lock()
	var dropped []int64
	for connectID, c := range s.conns {
		if r := c.Remote(); r != nil && r.ID() == remote.ID() {
			dropped = append(dropped, connectID)
			delete(s.conns, connectID)
		}
	}
	delete(s.watched, remote.ID())
	live := len(s.conns)
	s.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	s.logger.Info("form provider died",
		zap.String("provider", string(remote.ID())),
		zap.Int("connections", len(dropped)))
	s.changed(live)
}

// ConnectionIDs returns the live connect ids in order.
func (s *SupplyCallback) ConnectionIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.conns))
	for connectID := range s.conns {
		ids = append(ids, connectID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live connections.
func (s *SupplyCallback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *SupplyCallback) changed(live int) {
	if s.onChange != nil {
		s.onChange(live)
	}
}
