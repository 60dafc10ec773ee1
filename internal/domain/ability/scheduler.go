package ability

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// SchedulerDescriptor leads every request sent to an ability scheduler.
const SchedulerDescriptor = "ohos.aafwk.AbilityScheduler"

const (
	codeAbilityTransaction uint32 = iota + 1
	codeSendResult
	codeConnectAbility
	codeDisconnectAbility
	codeCommandAbility
	codeSaveAbilityState
	codeRestoreAbilityState
	codeContinueAbility
	codeNotifyContinuationResult
	codeTopActiveAbilityChanged
	codeCallRequest
)

// CallerInfo describes the ability that started a record.
type CallerInfo struct {
	RequestCode int
	DeviceID    string
	BundleName  string
	AbilityName string
}

// LifeCycleStateInfo is the target state sent with every transition.
type LifeCycleStateInfo struct {
	State     State
	IsNewWant bool
	MissionID int
	StackID   int
	Caller    CallerInfo
}

func (i LifeCycleStateInfo) toMap() map[string]any {
	return map[string]any{
		"state":        int(i.State),
		"is_new_want":  i.IsNewWant,
		"mission_id":   i.MissionID,
		"stack_id":     i.StackID,
		"request_code": i.Caller.RequestCode,
		"device_id":    i.Caller.DeviceID,
		"bundle_name":  i.Caller.BundleName,
		"ability_name": i.Caller.AbilityName,
	}
}

func lifeCycleStateInfoFromMap(m map[string]any) LifeCycleStateInfo {
	w := &types.Want{Params: m}
	return LifeCycleStateInfo{
		State:     State(w.IntParam("state", 0)),
		IsNewWant: w.BoolParam("is_new_want", false),
		MissionID: w.IntParam("mission_id", -1),
		StackID:   w.IntParam("stack_id", -1),
		Caller: CallerInfo{
			RequestCode: w.IntParam("request_code", -1),
			DeviceID:    w.StringParam("device_id", ""),
			BundleName:  w.StringParam("bundle_name", ""),
			AbilityName: w.StringParam("ability_name", ""),
		},
	}
}

// SchedulerHandler is implemented by the ability thread inside an
// application process.
type SchedulerHandler interface {
	ScheduleAbilityTransaction(ctx context.Context, want *types.Want, info LifeCycleStateInfo) error
	SendResult(ctx context.Context, requestCode, resultCode int, want *types.Want) error
	ScheduleConnectAbility(ctx context.Context, want *types.Want) error
	ScheduleDisconnectAbility(ctx context.Context, want *types.Want) error
	ScheduleCommandAbility(ctx context.Context, want *types.Want, restart bool, startID int) error
	ScheduleSaveAbilityState(ctx context.Context) error
	ScheduleRestoreAbilityState(ctx context.Context, state map[string]any) error
	ContinueAbility(ctx context.Context, deviceID string) error
	NotifyContinuationResult(ctx context.Context, result int32) error
	NotifyTopActiveAbilityChanged(ctx context.Context, flag bool) error
	CallRequest(ctx context.Context) error
}

// Scheduler is the framework's handle on a remote ability thread.
type Scheduler interface {
	SchedulerHandler
	Object() ipc.RemoteObject
}

// SchedulerProxy sends scheduler calls over a remote object.
type SchedulerProxy struct {
	remote ipc.RemoteObject
}

// NewSchedulerProxy wraps remote.
func NewSchedulerProxy(remote ipc.RemoteObject) *SchedulerProxy {
	return &SchedulerProxy{remote: remote}
}

func (p *SchedulerProxy) Object() ipc.RemoteObject { return p.remote }

func (p *SchedulerProxy) request() *ipc.Parcel {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(SchedulerDescriptor)
	return data
}

func (p *SchedulerProxy) send(ctx context.Context, code uint32, data *ipc.Parcel) error {
	if _, err := p.remote.SendRequest(ctx, code, data); err != nil {
		return fmt.Errorf("scheduler request %d: %w", code, err)
	}
	return nil
}

func (p *SchedulerProxy) ScheduleAbilityTransaction(ctx context.Context, want *types.Want, info LifeCycleStateInfo) error {
	data := p.request()
	if err := data.WriteWant(want); err != nil {
		return err
	}
	if err := data.WriteMap(info.toMap()); err != nil {
		return err
	}
	return p.send(ctx, codeAbilityTransaction, data)
}

func (p *SchedulerProxy) SendResult(ctx context.Context, requestCode, resultCode int, want *types.Want) error {
	data := p.request()
	data.WriteInt32(int32(requestCode))
	data.WriteInt32(int32(resultCode))
	if err := data.WriteWant(want); err != nil {
		return err
	}
	return p.send(ctx, codeSendResult, data)
}

func (p *SchedulerProxy) ScheduleConnectAbility(ctx context.Context, want *types.Want) error {
	data := p.request()
	if err := data.WriteWant(want); err != nil {
		return err
	}
	return p.send(ctx, codeConnectAbility, data)
}

func (p *SchedulerProxy) ScheduleDisconnectAbility(ctx context.Context, want *types.Want) error {
	data := p.request()
	if err := data.WriteWant(want); err != nil {
		return err
	}
	return p.send(ctx, codeDisconnectAbility, data)
}

func (p *SchedulerProxy) ScheduleCommandAbility(ctx context.Context, want *types.Want, restart bool, startID int) error {
	data := p.request()
	if err := data.WriteWant(want); err != nil {
		return err
	}
	data.WriteBool(restart)
	data.WriteInt32(int32(startID))
	return p.send(ctx, codeCommandAbility, data)
}

func (p *SchedulerProxy) ScheduleSaveAbilityState(ctx context.Context) error {
	return p.send(ctx, codeSaveAbilityState, p.request())
}

func (p *SchedulerProxy) ScheduleRestoreAbilityState(ctx context.Context, state map[string]any) error {
	data := p.request()
	if err := data.WriteMap(state); err != nil {
		return err
	}
	return p.send(ctx, codeRestoreAbilityState, data)
}

func (p *SchedulerProxy) ContinueAbility(ctx context.Context, deviceID string) error {
	data := p.request()
	data.WriteString(deviceID)
	return p.send(ctx, codeContinueAbility, data)
}

func (p *SchedulerProxy) NotifyContinuationResult(ctx context.Context, result int32) error {
	data := p.request()
	data.WriteInt32(result)
	return p.send(ctx, codeNotifyContinuationResult, data)
}

func (p *SchedulerProxy) NotifyTopActiveAbilityChanged(ctx context.Context, flag bool) error {
	data := p.request()
	data.WriteBool(flag)
	return p.send(ctx, codeTopActiveAbilityChanged, data)
}

func (p *SchedulerProxy) CallRequest(ctx context.Context) error {
	return p.send(ctx, codeCallRequest, p.request())
}

// NewSchedulerStub serves scheduler requests with h.
func NewSchedulerStub(h SchedulerHandler) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
		if err := data.EnforceInterface(SchedulerDescriptor); err != nil {
			return nil, err
		}
		var err error
		switch code {
		case codeAbilityTransaction:
			var want *types.Want
			var m map[string]any
			if want, err = data.ReadWant(); err == nil {
				if m, err = data.ReadMap(); err == nil {
					err = h.ScheduleAbilityTransaction(ctx, want, lifeCycleStateInfoFromMap(m))
				}
			}
		case codeSendResult:
			var reqCode, resCode int32
			var want *types.Want
			if reqCode, err = data.ReadInt32(); err == nil {
				if resCode, err = data.ReadInt32(); err == nil {
					if want, err = data.ReadWant(); err == nil {
						err = h.SendResult(ctx, int(reqCode), int(resCode), want)
					}
				}
			}
		case codeConnectAbility, codeDisconnectAbility:
			var want *types.Want
			if want, err = data.ReadWant(); err == nil {
				if code == codeConnectAbility {
					err = h.ScheduleConnectAbility(ctx, want)
				} else {
					err = h.ScheduleDisconnectAbility(ctx, want)
				}
			}
		case codeCommandAbility:
			var want *types.Want
			var restart bool
			var startID int32
			if want, err = data.ReadWant(); err == nil {
				if restart, err = data.ReadBool(); err == nil {
					if startID, err = data.ReadInt32(); err == nil {
						err = h.ScheduleCommandAbility(ctx, want, restart, int(startID))
					}
				}
			}
		case codeSaveAbilityState:
			err = h.ScheduleSaveAbilityState(ctx)
		case codeRestoreAbilityState:
			var m map[string]any
			if m, err = data.ReadMap(); err == nil {
				err = h.ScheduleRestoreAbilityState(ctx, m)
			}
		case codeContinueAbility:
			var deviceID string
			if deviceID, err = data.ReadString(); err == nil {
				err = h.ContinueAbility(ctx, deviceID)
			}
		case codeNotifyContinuationResult:
			var result int32
			if result, err = data.ReadInt32(); err == nil {
				err = h.NotifyContinuationResult(ctx, result)
			}
		case codeTopActiveAbilityChanged:
			var flag bool
			if flag, err = data.ReadBool(); err == nil {
				err = h.NotifyTopActiveAbilityChanged(ctx, flag)
			}
		case codeCallRequest:
			err = h.CallRequest(ctx)
		default:
			return nil, errcode.Newf(errcode.InvalidParam, "SchedulerStub", "unknown code %d", code)
		}
		if err != nil {
			return nil, err
		}
		return ipc.NewParcel(), nil
	})
}
