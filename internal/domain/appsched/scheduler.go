package appsched

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

const defaultCallTimeout = 3 * time.Second

// Scheduler adapts an AppManager to ability.AppScheduler.
type Scheduler struct {
	mgr         AppManager
	logger      *zap.Logger
	callTimeout time.Duration
	callback    *ipc.LocalObject
}

var _ ability.AppScheduler = (*Scheduler)(nil)

// NewScheduler wraps mgr.
func NewScheduler(mgr AppManager, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{mgr: mgr, logger: logger, callTimeout: defaultCallTimeout}
}

// Init registers cb for process-state notifications. When registry is
// set the callback object is published there first so a stub on the far
// side can resolve it.
func (s *Scheduler) Init(ctx context.Context, cb Callback, registry *ipc.Registry) (*ipc.LocalObject, error) {
	if cb == nil {
		return nil, errcode.New(errcode.InvalidParam, "Init", "callback is nil")
	}
	s.callback = ipc.NewLocalObject("appcb", NewCallbackStub(cb))
	if registry != nil {
		registry.Register(s.callback)
	}
	if err := s.mgr.RegisterAppStateCallback(ctx, s.callback); err != nil {
		return nil, errcode.Wrap(errcode.InnerError, "Init", err)
	}
	return s.callback, nil
}

func (s *Scheduler) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.callTimeout)
}

func (s *Scheduler) logErr(op string, err error) {
	if err != nil {
		s.logger.Error("app manager call failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Scheduler) LoadAbility(token, preToken *ability.Token, info types.AbilityInfo, app types.ApplicationInfo) error {
	if token == nil {
		return errcode.New(errcode.InvalidParam, "LoadAbility", "token is nil")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.mgr.LoadAbility(ctx, token, preToken, info, app); err != nil {
		return errcode.Wrap(errcode.InnerError, "LoadAbility", err)
	}
	return nil
}

func (s *Scheduler) TerminateAbility(token *ability.Token) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.mgr.TerminateAbility(ctx, token); err != nil {
		return errcode.Wrap(errcode.InnerError, "TerminateAbility", err)
	}
	return nil
}

func (s *Scheduler) MoveToForeground(token *ability.Token) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("move_to_foreground", s.mgr.MoveToForeground(ctx, token))
}

func (s *Scheduler) MoveToBackground(token *ability.Token) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("move_to_background", s.mgr.MoveToBackground(ctx, token))
}

func (s *Scheduler) AbilityBehaviorAnalysis(token, preToken *ability.Token, visibility, perceptibility, connectionState int) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("behavior_analysis", s.mgr.AbilityBehaviorAnalysis(ctx, token, preToken, visibility, perceptibility, connectionState))
}

func (s *Scheduler) KillProcessByAbilityToken(token *ability.Token) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("kill_process", s.mgr.KillProcessByAbilityToken(ctx, token))
}

// UpdateAbilityState reports a settled ability state to the process manager.
func (s *Scheduler) UpdateAbilityState(token *ability.Token, state ability.State) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("update_ability_state", s.mgr.UpdateAbilityState(ctx, token, state))
}

// UpdateExtensionState reports an extension ability state.
func (s *Scheduler) UpdateExtensionState(token *ability.Token, state ExtensionState) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("update_extension_state", s.mgr.UpdateExtensionState(ctx, token, state))
}

// KillProcessesByUserID kills every process of userID.
func (s *Scheduler) KillProcessesByUserID(userID int32) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("kill_user_processes", s.mgr.KillProcessesByUserID(ctx, userID))
}

// AttachTimeOut reports that an ability never attached.
func (s *Scheduler) AttachTimeOut(token *ability.Token) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("attach_timeout", s.mgr.AttachTimeOut(ctx, token))
}

// PrepareTerminate warns the process its ability is about to go.
func (s *Scheduler) PrepareTerminate(token *ability.Token) {
	ctx, cancel := s.ctx()
	defer cancel()
	s.logErr("prepare_terminate", s.mgr.PrepareTerminate(ctx, token))
}

// KillApplication kills the process of bundleName.
func (s *Scheduler) KillApplication(bundleName string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.mgr.KillApplication(ctx, bundleName); err != nil {
		return errcode.Wrap(errcode.InnerError, "KillApplication", err)
	}
	return nil
}

// ClearUpApplicationData kills bundleName and clears its data.
func (s *Scheduler) ClearUpApplicationData(bundleName string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.mgr.ClearUpApplicationData(ctx, bundleName); err != nil {
		return errcode.Wrap(errcode.InnerError, "ClearUpApplicationData", err)
	}
	return nil
}

// GetRunningProcessInfoByToken describes the process hosting token.
func (s *Scheduler) GetRunningProcessInfoByToken(token *ability.Token) (RunningProcessInfo, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.mgr.GetRunningProcessInfoByToken(ctx, token)
}
