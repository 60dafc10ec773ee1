package appsched

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// AppManagerDescriptor leads every request sent to the app manager.
const AppManagerDescriptor = "ohos.appexecfwk.AppMgr"

const (
	codeLoadAbility uint32 = iota + 1
	codeTerminateAbility
	codeUpdateAbilityState
	codeUpdateExtensionState
	codeAbilityBehaviorAnalysis
	codeKillProcessByAbilityToken
	codeKillProcessesByUserID
	codeMoveToForeground
	codeMoveToBackground
	codeAttachTimeOut
	codePrepareTerminate
	codeKillApplication
	codeClearUpApplicationData
	codeGetRunningProcessInfo
	codeRegisterAppStateCallback
)

// Proxy sends AppManager calls over a remote object.
type Proxy struct {
	remote ipc.RemoteObject
}

// NewProxy wraps remote.
func NewProxy(remote ipc.RemoteObject) *Proxy {
	return &Proxy{remote: remote}
}

func (p *Proxy) Object() ipc.RemoteObject { return p.remote }

func (p *Proxy) request() *ipc.Parcel {
	data := ipc.NewParcel()
	data.WriteInterfaceToken(AppManagerDescriptor)
	return data
}

func (p *Proxy) send(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
	reply, err := p.remote.SendRequest(ctx, code, data)
	if err != nil {
		return nil, fmt.Errorf("app manager request %d: %w", code, err)
	}
	return reply, nil
}

func writeToken(data *ipc.Parcel, t *ability.Token) {
	data.WriteString(string(t.ID()))
}

func readToken(data *ipc.Parcel) (*ability.Token, error) {
	s, err := data.ReadString()
	if err != nil {
		return nil, err
	}
	return ability.TokenFromID(id.ObjectID(s)), nil
}

func (p *Proxy) tokenCall(ctx context.Context, code uint32, token *ability.Token) error {
	data := p.request()
	writeToken(data, token)
	_, err := p.send(ctx, code, data)
	return err
}

func (p *Proxy) LoadAbility(ctx context.Context, token, preToken *ability.Token, info types.AbilityInfo, app types.ApplicationInfo) error {
	infoJSON, err := sonic.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode ability info: %w", err)
	}
	appJSON, err := sonic.Marshal(app)
	if err != nil {
		return fmt.Errorf("encode application info: %w", err)
	}
	data := p.request()
	writeToken(data, token)
	writeToken(data, preToken)
	data.WriteBytes(infoJSON)
	data.WriteBytes(appJSON)
	_, err = p.send(ctx, codeLoadAbility, data)
	return err
}

func (p *Proxy) TerminateAbility(ctx context.Context, token *ability.Token) error {
	return p.tokenCall(ctx, codeTerminateAbility, token)
}

func (p *Proxy) UpdateAbilityState(ctx context.Context, token *ability.Token, state ability.State) error {
	data := p.request()
	writeToken(data, token)
	data.WriteInt32(int32(state))
	_, err := p.send(ctx, codeUpdateAbilityState, data)
	return err
}

func (p *Proxy) UpdateExtensionState(ctx context.Context, token *ability.Token, state ExtensionState) error {
	data := p.request()
	writeToken(data, token)
	data.WriteInt32(int32(state))
	_, err := p.send(ctx, codeUpdateExtensionState, data)
	return err
}

func (p *Proxy) AbilityBehaviorAnalysis(ctx context.Context, token, preToken *ability.Token, visibility, perceptibility, connectionState int) error {
	data := p.request()
	writeToken(data, token)
	writeToken(data, preToken)
	data.WriteInt32(int32(visibility))
	data.WriteInt32(int32(perceptibility))
	data.WriteInt32(int32(connectionState))
	_, err := p.send(ctx, codeAbilityBehaviorAnalysis, data)
	return err
}

func (p *Proxy) KillProcessByAbilityToken(ctx context.Context, token *ability.Token) error {
	return p.tokenCall(ctx, codeKillProcessByAbilityToken, token)
}

func (p *Proxy) KillProcessesByUserID(ctx context.Context, userID int32) error {
	data := p.request()
	data.WriteInt32(userID)
	_, err := p.send(ctx, codeKillProcessesByUserID, data)
	return err
}

func (p *Proxy) MoveToForeground(ctx context.Context, token *ability.Token) error {
	return p.tokenCall(ctx, codeMoveToForeground, token)
}

func (p *Proxy) MoveToBackground(ctx context.Context, token *ability.Token) error {
	return p.tokenCall(ctx, codeMoveToBackground, token)
}

func (p *Proxy) AttachTimeOut(ctx context.Context, token *ability.Token) error {
	return p.tokenCall(ctx, codeAttachTimeOut, token)
}

func (p *Proxy) PrepareTerminate(ctx context.Context, token *ability.Token) error {
	return p.tokenCall(ctx, codePrepareTerminate, token)
}

func (p *Proxy) KillApplication(ctx context.Context, bundleName string) error {
	data := p.request()
	data.WriteString(bundleName)
	_, err := p.send(ctx, codeKillApplication, data)
	return err
}

func (p *Proxy) ClearUpApplicationData(ctx context.Context, bundleName string) error {
	data := p.request()
	data.WriteString(bundleName)
	_, err := p.send(ctx, codeClearUpApplicationData, data)
	return err
}

func (p *Proxy) GetRunningProcessInfoByToken(ctx context.Context, token *ability.Token) (RunningProcessInfo, error) {
	data := p.request()
	writeToken(data, token)
	reply, err := p.send(ctx, codeGetRunningProcessInfo, data)
	if err != nil {
		return RunningProcessInfo{}, err
	}
	raw, err := reply.ReadBytes()
	if err != nil {
		return RunningProcessInfo{}, err
	}
	var info RunningProcessInfo
	if err := sonic.Unmarshal(raw, &info); err != nil {
		return RunningProcessInfo{}, fmt.Errorf("decode process info: %w", err)
	}
	return info, nil
}

func (p *Proxy) RegisterAppStateCallback(ctx context.Context, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteRemoteObject(callback)
	_, err := p.send(ctx, codeRegisterAppStateCallback, data)
	return err
}

// NewStub serves AppManager requests with h. Callback objects named in
// requests are resolved through resolver.
func NewStub(h AppManager, resolver ipc.Resolver) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
		if err := data.EnforceInterface(AppManagerDescriptor); err != nil {
			return nil, err
		}
		reply := ipc.NewParcel()
		var err error
		switch code {
		case codeLoadAbility:
			err = serveLoadAbility(ctx, h, data)
		case codeTerminateAbility, codeKillProcessByAbilityToken, codeMoveToForeground,
			codeMoveToBackground, codeAttachTimeOut, codePrepareTerminate:
			var token *ability.Token
			if token, err = readToken(data); err == nil {
				err = serveTokenCall(ctx, h, code, token)
			}
		case codeUpdateAbilityState, codeUpdateExtensionState:
			var token *ability.Token
			var state int32
			if token, err = readToken(data); err == nil {
				if state, err = data.ReadInt32(); err == nil {
					if code == codeUpdateAbilityState {
						err = h.UpdateAbilityState(ctx, token, ability.State(state))
					} else {
						err = h.UpdateExtensionState(ctx, token, ExtensionState(state))
					}
				}
			}
		case codeAbilityBehaviorAnalysis:
			err = serveBehaviorAnalysis(ctx, h, data)
		case codeKillProcessesByUserID:
			var userID int32
			if userID, err = data.ReadInt32(); err == nil {
				err = h.KillProcessesByUserID(ctx, userID)
			}
		case codeKillApplication, codeClearUpApplicationData:
			var bundle string
			if bundle, err = data.ReadString(); err == nil {
				if code == codeKillApplication {
					err = h.KillApplication(ctx, bundle)
				} else {
					err = h.ClearUpApplicationData(ctx, bundle)
				}
			}
		case codeGetRunningProcessInfo:
			var token *ability.Token
			var info RunningProcessInfo
			if token, err = readToken(data); err == nil {
				if info, err = h.GetRunningProcessInfoByToken(ctx, token); err == nil {
					var raw []byte
					if raw, err = sonic.Marshal(info); err == nil {
						reply.WriteBytes(raw)
					}
				}
			}
		case codeRegisterAppStateCallback:
			var obj ipc.RemoteObject
			if obj, err = data.ReadRemoteObject(resolver); err == nil {
				err = h.RegisterAppStateCallback(ctx, obj)
			}
		default:
			return nil, errcode.Newf(errcode.InvalidParam, "AppManagerStub", "unknown code %d", code)
		}
		if err != nil {
			return nil, err
		}
		return reply, nil
	})
}

func serveLoadAbility(ctx context.Context, h AppManager, data *ipc.Parcel) error {
	token, err := readToken(data)
	if err != nil {
		return err
	}
	preToken, err := readToken(data)
	if err != nil {
		return err
	}
	infoJSON, err := data.ReadBytes()
	if err != nil {
		return err
	}
	appJSON, err := data.ReadBytes()
	if err != nil {
		return err
	}
	var info types.AbilityInfo
	if err := sonic.Unmarshal(infoJSON, &info); err != nil {
		return errcode.Wrap(errcode.InvalidParam, "LoadAbility", err)
	}
	var app types.ApplicationInfo
	if err := sonic.Unmarshal(appJSON, &app); err != nil {
		return errcode.Wrap(errcode.InvalidParam, "LoadAbility", err)
	}
	return h.LoadAbility(ctx, token, preToken, info, app)
}

func serveTokenCall(ctx context.Context, h AppManager, code uint32, token *ability.Token) error {
	switch code {
	case codeTerminateAbility:
		return h.TerminateAbility(ctx, token)
	case codeKillProcessByAbilityToken:
		return h.KillProcessByAbilityToken(ctx, token)
	case codeMoveToForeground:
		return h.MoveToForeground(ctx, token)
	case codeMoveToBackground:
		return h.MoveToBackground(ctx, token)
	case codeAttachTimeOut:
		return h.AttachTimeOut(ctx, token)
	default:
		return h.PrepareTerminate(ctx, token)
	}
}

func serveBehaviorAnalysis(ctx context.Context, h AppManager, data *ipc.Parcel) error {
	token, err := readToken(data)
	if err != nil {
		return err
	}
	preToken, err := readToken(data)
	if err != nil {
		return err
	}
	var vals [3]int32
	for i := range vals {
		if vals[i], err = data.ReadInt32(); err != nil {
			return err
		}
	}
	return h.AbilityBehaviorAnalysis(ctx, token, preToken, int(vals[0]), int(vals[1]), int(vals[2]))
}
