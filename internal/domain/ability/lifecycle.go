package ability

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// Scheduler returns the attached ability thread, or nil.
func (r *Record) Scheduler() Scheduler {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	return r.scheduler
}

// SetScheduler attaches (non-nil) or detaches (nil) the ability thread.
// The death recipient moves with the scheduler so a replaced scheduler
// can no longer report this record dead.
func (r *Record) SetScheduler(s Scheduler) {
	r.schedMu.Lock()
	if r.scheduler != nil && r.schedRecipient != nil {
		r.scheduler.Object().RemoveDeathRecipient(r.schedRecipient)
	}
	if s == nil {
		r.scheduler = nil
		r.schedMu.Unlock()

		r.logger.Warn("scheduler detached")
		r.isReady = false
		r.isWindowAttached = false
		r.SetIsNewWant(false)
		r.deal.SetScheduler(nil)
		return
	}
	if r.schedRecipient == nil {
		r.schedRecipient = ipc.NewDeathRecipient(r.schedulerDied)
	}
	r.scheduler = s
	recipient := r.schedRecipient
	r.schedMu.Unlock()

	r.isReady = true
	r.deal.SetScheduler(s)
	if !s.Object().AddDeathRecipient(recipient) {
		r.schedulerDied(s.Object())
	}
}

// schedulerDied runs on the transport goroutine and only hands off.
func (r *Record) schedulerDied(remote ipc.RemoteObject) {
	r.post(func() { r.OnSchedulerDied(remote) })
}

// OnSchedulerDied unlinks a dead scheduler, then posts the ability-died
// report and the failure result for every caller as two separate tasks.
func (r *Record) OnSchedulerDied(remote ipc.RemoteObject) {
	r.schedMu.Lock()
	if r.scheduler == nil || remote == nil || r.scheduler.Object().ID() != remote.ID() {
		r.schedMu.Unlock()
		r.logger.Warn("scheduler died but does not match the attached one")
		return
	}
	r.scheduler.Object().RemoveDeathRecipient(r.schedRecipient)
	r.scheduler = nil
	r.schedMu.Unlock()

	r.deal.SetScheduler(nil)
	r.isReady = false
	r.isWindowAttached = false
	r.logger.Info("ability scheduler died")

	if r.env.Handler != nil {
		r.env.Handler.PostTask(func() { r.env.Handler.OnAbilityDied(r) })
	}
	r.post(func() {
		r.SaveResultToCallers(-1, nil)
		r.SendResultToCallers()
	})
}

func (r *Record) post(fn func()) {
	if r.env.Handler == nil {
		fn()
		return
	}
	r.env.Handler.PostTask(fn)
}

// sendEvent arms a timeout under a fresh event id.
func (r *Record) sendEvent(msg EventMsg, after time.Duration) {
	r.eventID = eventIDs.Next()
	if r.env.Handler == nil {
		r.logger.Error("no handler, timeout not armed", zap.Stringer("msg", msg))
		return
	}
	r.env.Handler.SendEvent(msg, r.eventID, after)
}

// postTimeoutTask arms task under a fresh event id. A nil task still
// consumes an id; the transition proceeds without a watchdog.
func (r *Record) postTimeoutTask(task func(), after time.Duration) {
	r.eventID = eventIDs.Next()
	if r.env.Handler == nil || task == nil {
		r.logger.Error("handler or task missing, timeout not armed")
		return
	}
	r.env.Handler.PostTimeoutTask(r.eventID, after, task)
}

// SetRestarting marks the record as being restarted. For the root
// launcher (and keep-alive abilities) entering restart spends one unit of
// budget and leaving restart restores the full budget.
func (r *Record) SetRestarting(restarting bool) {
	r.isRestarting = restarting
	if !((r.isLauncherRoot && r.isLauncher) || r.isKeepAlive) {
		return
	}
	if !restarting {
		r.restartCount = r.restartMax
		return
	}
	if r.restartCount > 0 {
		r.restartCount--
	}
}

// CanRestartRootLauncher is false once a restarting root launcher has
// spent its budget.
func (r *Record) CanRestartRootLauncher() bool {
	return !(r.isLauncherRoot && r.isRestarting && r.isLauncher && r.restartCount <= 0)
}

// LoadAbility asks the app manager to start the hosting process.
func (r *Record) LoadAbility() error {
	r.startTime = time.Now()
	if !r.CanRestartRootLauncher() {
		r.logger.Error("root launcher restart budget exhausted")
		return errcode.New(errcode.InvalidState, "LoadAbility", "root launcher restart budget exhausted")
	}
	if r.appInfo.Name == "" {
		return errcode.New(errcode.InvalidParam, "LoadAbility", "application name is empty")
	}
	if r.abilityInfo.Type != types.AbilityTypeData {
		r.sendEvent(LoadTimeoutMsg, r.env.Timeouts.Load)
	}
	var callerToken *Token
	if n := len(r.callers); n > 0 {
		if caller := r.lookup(r.callers[n-1].CallerID); caller != nil {
			callerToken = caller.token
		}
	}
	if r.env.Apps == nil {
		return errcode.New(errcode.InnerError, "LoadAbility", "app scheduler unavailable")
	}
	return r.env.Apps.LoadAbility(r.token, callerToken, r.abilityInfo, r.appInfo)
}

// TerminateAbility asks the app manager to drop the ability.
func (r *Record) TerminateAbility() error {
	if r.env.Apps == nil {
		return errcode.New(errcode.InnerError, "TerminateAbility", "app scheduler unavailable")
	}
	return r.env.Apps.TerminateAbility(r.token)
}

func (r *Record) logDeal(op string, err error) {
	if err != nil {
		r.logger.Error("lifecycle call failed", zap.String("op", op), zap.Error(err))
	}
}

// Activate drives the record toward ACTIVE (FOREGROUND_NEW for
// new-version pages).
func (r *Record) Activate() {
	if r.newVersion {
		r.ForegroundNew()
		return
	}
	r.currentState = Activating
	r.sendEvent(ActiveTimeoutMsg, r.env.Timeouts.Active)
	r.logDeal("activate", r.deal.Activate(r.want, r.stateInfo))

	if r.IsNewWant() && r.env.Apps != nil {
		var preToken *Token
		if pre := r.PreAbilityRecord(); pre != nil {
			preToken = pre.token
		}
		r.env.Apps.AbilityBehaviorAnalysis(r.token, preToken, 1, 1, 1)
	}
}

// Inactivate drives a legacy record toward INACTIVE. New-version pages
// have no inactive phase.
func (r *Record) Inactivate() {
	if r.newVersion {
		r.logger.Debug("inactivate ignored for new-version page")
		return
	}
	r.currentState = Inactivating
	r.sendEvent(InactiveTimeoutMsg, r.env.Timeouts.Inactive)
	r.logDeal("inactivate", r.deal.Inactivate(r.want, r.stateInfo))
}

// MoveToBackground drives the record toward BACKGROUND; task runs if the
// ability does not report back in time.
func (r *Record) MoveToBackground(task func()) {
	if r.newVersion {
		r.BackgroundNew(task)
		return
	}
	r.currentState = MovingBackground
	r.postTimeoutTask(task, r.env.Timeouts.Background)
	if !r.isTerminating || r.isRestarting {
		r.SaveAbilityState()
	}
	r.logDeal("background", r.deal.MoveToBackground(r.want, r.stateInfo))
}

// Terminate drives the record toward destruction.
func (r *Record) Terminate(task func()) {
	r.currentState = Terminating
	r.postTimeoutTask(task, r.env.Timeouts.Terminate)
	r.logDeal("terminate", r.deal.Terminate(r.want, r.stateInfo))
}

// ForegroundNew drives a new-version page toward FOREGROUND_NEW.
func (r *Record) ForegroundNew() {
	r.currentState = ForegroundingNew
	r.sendEvent(ForegroundNewTimeoutMsg, r.env.Timeouts.ForegroundNew)
	r.logDeal("foreground_new", r.deal.ForegroundNew(r.want, r.stateInfo))
}

// BackgroundNew drives a new-version page toward BACKGROUND_NEW.
func (r *Record) BackgroundNew(task func()) {
	r.currentState = BackgroundingNew
	r.postTimeoutTask(task, r.env.Timeouts.Background)
	r.logDeal("background_new", r.deal.BackgroundNew(r.want, r.stateInfo))
}

// ProcessActivate brings the record to the foreground by whichever step
// its current state needs.
func (r *Record) ProcessActivate() error {
	if !r.isReady {
		return r.LoadAbility()
	}
	if r.currentState == Background || r.currentState == BackgroundNew {
		if r.env.Apps != nil {
			r.env.Apps.MoveToForeground(r.token)
		}
		return nil
	}
	r.Activate()
	return nil
}

// ProcessInactivate is ProcessActivate's counterpart for the inactive
// phase.
func (r *Record) ProcessInactivate() error {
	if !r.isReady {
		return r.LoadAbility()
	}
	if r.currentState == Background {
		if r.env.Apps != nil {
			r.env.Apps.MoveToForeground(r.token)
		}
		return nil
	}
	if r.currentState != Inactive && r.currentState != Inactivating {
		r.Inactivate()
	}
	return nil
}

func (r *Record) ConnectAbility() {
	r.logDeal("connect", r.deal.ConnectAbility(r.want))
}

func (r *Record) DisconnectAbility() {
	r.logDeal("disconnect", r.deal.DisconnectAbility(r.want))
}

func (r *Record) CommandAbility() {
	r.logDeal("command", r.deal.CommandAbility(r.want, false, r.startID))
}

// SaveAbilityState asks the ability to hand over its state.
func (r *Record) SaveAbilityState() {
	r.logDeal("save_state", r.deal.SaveAbilityState())
}

// SetSavedState stores state reported by the ability.
func (r *Record) SetSavedState(state map[string]any) {
	r.savedState = state
}

// RestoreAbilityState hands saved state back and ends restart mode.
func (r *Record) RestoreAbilityState() {
	r.logDeal("restore_state", r.deal.RestoreAbilityState(r.savedState))
	r.savedState = nil
	r.isRestarting = false
}

func (r *Record) ContinueAbility(deviceID string) {
	r.logDeal("continue", r.deal.ContinueAbility(deviceID))
}

func (r *Record) NotifyContinuationResult(result int32) {
	r.logDeal("continuation_result", r.deal.NotifyContinuationResult(result))
}

func (r *Record) TopActiveAbilityChanged(flag bool) {
	r.logDeal("top_active", r.deal.NotifyTopActiveAbilityChanged(flag))
}
