package appsched

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

// CallbackDescriptor leads every request sent to an app-state callback.
const CallbackDescriptor = "ohos.appexecfwk.AppStateCallback"

const (
	codeAbilityRequestDone uint32 = iota + 1
	codeAppStateChanged
)

// CallbackProxy sends notifications to a remote callback.
type CallbackProxy struct {
	remote ipc.RemoteObject
}

// NewCallbackProxy wraps remote.
func NewCallbackProxy(remote ipc.RemoteObject) *CallbackProxy {
	return &CallbackProxy{remote: remote}
}

func (p *CallbackProxy) Object() ipc.RemoteObject { return p.remote }

func (p *CallbackProxy) OnAbilityRequestDone(ctx context.Context, token *ability.Token, state ability.AppState) error {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(CallbackDescriptor)
	writeToken(data, token)
	data.WriteInt32(int32(state))
	if _, err := p.remote.SendRequest(ctx, codeAbilityRequestDone, data); err != nil {
		return fmt.Errorf("ability request done: %w", err)
	}
	return nil
}

func (p *CallbackProxy) OnAppStateChanged(ctx context.Context, d AppProcessData) error {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(CallbackDescriptor)
	data.WriteString(d.BundleName)
	data.WriteString(d.ProcessName)
	data.WriteInt32(d.PID)
	data.WriteInt32(d.UID)
	data.WriteInt32(int32(d.State))
	if _, err := p.remote.SendRequest(ctx, codeAppStateChanged, data); err != nil {
		return fmt.Errorf("app state changed: %w", err)
	}
	return nil
}

// NewCallbackStub serves callback requests with cb.
func NewCallbackStub(cb Callback) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
		if err := data.EnforceInterface(CallbackDescriptor); err != nil {
			return nil, err
		}
		switch code {
		case codeAbilityRequestDone:
			token, err := readToken(data)
			if err != nil {
				return nil, err
			}
			state, err := data.ReadInt32()
			if err != nil {
				return nil, err
			}
			return nil, cb.OnAbilityRequestDone(ctx, token, ability.AppState(state))
		case codeAppStateChanged:
			var d AppProcessData
			var err error
			var state int32
			if d.BundleName, err = data.ReadString(); err != nil {
				return nil, err
			}
			if d.ProcessName, err = data.ReadString(); err != nil {
				return nil, err
			}
			if d.PID, err = data.ReadInt32(); err != nil {
				return nil, err
			}
			if d.UID, err = data.ReadInt32(); err != nil {
				return nil, err
			}
			if state, err = data.ReadInt32(); err != nil {
				return nil, err
			}
			d.State = ability.AppState(state)
			return nil, cb.OnAppStateChanged(ctx, d)
		default:
			return nil, errcode.Newf(errcode.InvalidParam, "AppStateCallbackStub", "unknown code %d", code)
		}
	})
}

// ManagerCallback relays process-manager notifications to an ability
// manager.
type ManagerCallback struct {
	Manager *ability.Manager
}

func (c ManagerCallback) OnAbilityRequestDone(_ context.Context, token *ability.Token, state ability.AppState) error {
	return c.Manager.OnAbilityRequestDone(token, state)
}

func (c ManagerCallback) OnAppStateChanged(_ context.Context, d AppProcessData) error {
	c.Manager.OnAppStateChanged(d.BundleName, d.State)
	return nil
}
