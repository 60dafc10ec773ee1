package appsched

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// ExtensionState is the state of an extension ability.
type ExtensionState int

const (
	ExtensionInitial ExtensionState = iota
	ExtensionConnected
	ExtensionDisconnected
	ExtensionTerminated
)

// RunningProcessInfo describes one application process.
type RunningProcessInfo struct {
	ProcessName string           `json:"process_name"`
	PID         int32            `json:"pid"`
	UID         int32            `json:"uid"`
	State       ability.AppState `json:"state"`
	Bundles     []string         `json:"bundles"`
}

// AppManager is the application-process manager.
type AppManager interface {
	LoadAbility(ctx context.Context, token, preToken *ability.Token, info types.AbilityInfo, app types.ApplicationInfo) error
	TerminateAbility(ctx context.Context, token *ability.Token) error
	UpdateAbilityState(ctx context.Context, token *ability.Token, state ability.State) error
	UpdateExtensionState(ctx context.Context, token *ability.Token, state ExtensionState) error
	AbilityBehaviorAnalysis(ctx context.Context, token, preToken *ability.Token, visibility, perceptibility, connectionState int) error
	KillProcessByAbilityToken(ctx context.Context, token *ability.Token) error
	KillProcessesByUserID(ctx context.Context, userID int32) error
	MoveToForeground(ctx context.Context, token *ability.Token) error
	MoveToBackground(ctx context.Context, token *ability.Token) error
	AttachTimeOut(ctx context.Context, token *ability.Token) error
	PrepareTerminate(ctx context.Context, token *ability.Token) error
	KillApplication(ctx context.Context, bundleName string) error
	ClearUpApplicationData(ctx context.Context, bundleName string) error
	GetRunningProcessInfoByToken(ctx context.Context, token *ability.Token) (RunningProcessInfo, error)
	RegisterAppStateCallback(ctx context.Context, callback ipc.RemoteObject) error
}

// AppProcessData is reported when a process changes state.
type AppProcessData struct {
	BundleName  string
	ProcessName string
	PID         int32
	UID         int32
	State       ability.AppState
}

// Callback receives process-manager notifications.
type Callback interface {
	OnAbilityRequestDone(ctx context.Context, token *ability.Token, state ability.AppState) error
	OnAppStateChanged(ctx context.Context, data AppProcessData) error
}
