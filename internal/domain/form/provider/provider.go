// Package provider talks to form provider abilities.
//
// A form provider is reached through a one-shot connection: the connection
// is registered in the SupplyCallback table under a fresh connect id, makes
// exactly one provider call carrying that id in the want, and is dropped
// when the provider answers through the supply callback or dies.
package provider

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// Descriptor leads every request sent to a form provider.
const Descriptor = "ohos.appexecfwk.FormProvider"

const (
	codeAcquireProviderFormInfo uint32 = iota + 1
	codeNotifyFormDelete
	codeNotifyFormsDelete
	codeNotifyFormUpdate
	codeEventNotify
	codeNotifyFormCastTempForm
	codeFireFormEvent
	codeAcquireState
)

// Provider is the surface a form provider ability serves. callback is the
// supply object the provider answers through.
type Provider interface {
	AcquireProviderFormInfo(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error
	NotifyFormDelete(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error
	NotifyFormsDelete(ctx context.Context, formIDs []int64, want *types.Want, callback ipc.RemoteObject) error
	NotifyFormUpdate(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error
	EventNotify(ctx context.Context, formIDs []int64, visibleType int32, want *types.Want, callback ipc.RemoteObject) error
	NotifyFormCastTempForm(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error
	FireFormEvent(ctx context.Context, formID int64, message string, want *types.Want, callback ipc.RemoteObject) error
	AcquireState(ctx context.Context, wantArg *types.Want, provider string, want *types.Want, callback ipc.RemoteObject) error
}

// Proxy sends provider calls over a remote object.
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
	data.WriteInterfaceToken(Descriptor)
	return data
}

func (p *Proxy) send(ctx context.Context, code uint32, data *ipc.Parcel, want *types.Want, callback ipc.RemoteObject) error {
	if err := data.WriteWant(want); err != nil {
		return fmt.Errorf("encode want: %w", err)
	}
	data.WriteRemoteObject(callback)
	if _, err := p.remote.SendRequest(ctx, code, data); err != nil {
		return fmt.Errorf("form provider request %d: %w", code, err)
	}
	return nil
}

func (p *Proxy) AcquireProviderFormInfo(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64(formID)
	return p.send(ctx, codeAcquireProviderFormInfo, data, want, callback)
}

func (p *Proxy) NotifyFormDelete(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64(formID)
	return p.send(ctx, codeNotifyFormDelete, data, want, callback)
}

func (p *Proxy) NotifyFormsDelete(ctx context.Context, formIDs []int64, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64List(formIDs)
	return p.send(ctx, codeNotifyFormsDelete, data, want, callback)
}

func (p *Proxy) NotifyFormUpdate(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64(formID)
	return p.send(ctx, codeNotifyFormUpdate, data, want, callback)
}

func (p *Proxy) EventNotify(ctx context.Context, formIDs []int64, visibleType int32, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64List(formIDs)
	data.WriteInt32(visibleType)
	return p.send(ctx, codeEventNotify, data, want, callback)
}

func (p *Proxy) NotifyFormCastTempForm(ctx context.Context, formID int64, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64(formID)
	return p.send(ctx, codeNotifyFormCastTempForm, data, want, callback)
}

func (p *Proxy) FireFormEvent(ctx context.Context, formID int64, message string, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	data.WriteInt64(formID)
	data.WriteString(message)
	return p.send(ctx, codeFireFormEvent, data, want, callback)
}

func (p *Proxy) AcquireState(ctx context.Context, wantArg *types.Want, provider string, want *types.Want, callback ipc.RemoteObject) error {
	data := p.request()
	if err := data.WriteWant(wantArg); err != nil {
		return fmt.Errorf("encode state want: %w", err)
	}
	data.WriteString(provider)
	return p.send(ctx, codeAcquireState, data, want, callback)
}

// NewStub serves provider calls with p. Supply objects named in requests
// are resolved through r.
func NewStub(p Provider, r ipc.Resolver) ipc.Handler {
	return ipc.HandlerFunc(func(ctx context.Context, code uint32, data *ipc.Parcel) (*ipc.Parcel, error) {
		if err := data.EnforceInterface(Descriptor); err != nil {
			return nil, err
		}
		var (
			formID  int64
			formIDs []int64
			err     error
		)
		switch code {
		case codeAcquireProviderFormInfo, codeNotifyFormDelete, codeNotifyFormUpdate, codeNotifyFormCastTempForm, codeFireFormEvent:
			formID, err = data.ReadInt64()
		case codeNotifyFormsDelete, codeEventNotify:
			formIDs, err = data.ReadInt64List()
		case codeAcquireState:
		default:
			return nil, errcode.Newf(errcode.InvalidParam, "FormProviderStub", "unknown code %d", code)
		}
		if err != nil {
			return nil, err
		}

		var (
			visibleType int32
			message     string
			wantArg     *types.Want
			key         string
		)
		switch code {
		case codeEventNotify:
			visibleType, err = data.ReadInt32()
		case codeFireFormEvent:
			message, err = data.ReadString()
		case codeAcquireState:
			if wantArg, err = data.ReadWant(); err == nil {
				key, err = data.ReadString()
			}
		}
		if err != nil {
			return nil, err
		}

		want, err := data.ReadWant()
		if err != nil {
			return nil, err
		}
		callback, err := data.ReadRemoteObject(r)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidParam, "FormProviderStub", err)
		}

		switch code {
		case codeAcquireProviderFormInfo:
			err = p.AcquireProviderFormInfo(ctx, formID, want, callback)
		case codeNotifyFormDelete:
			err = p.NotifyFormDelete(ctx, formID, want, callback)
		case codeNotifyFormsDelete:
			err = p.NotifyFormsDelete(ctx, formIDs, want, callback)
		case codeNotifyFormUpdate:
			err = p.NotifyFormUpdate(ctx, formID, want, callback)
		case codeEventNotify:
			err = p.EventNotify(ctx, formIDs, visibleType, want, callback)
		case codeNotifyFormCastTempForm:
			err = p.NotifyFormCastTempForm(ctx, formID, want, callback)
		case codeFireFormEvent:
			err = p.FireFormEvent(ctx, formID, message, want, callback)
		case codeAcquireState:
			err = p.AcquireState(ctx, wantArg, key, want, callback)
		}
		if err != nil {
			return nil, err
		}
		return ipc.NewParcel(), nil
	})
}
