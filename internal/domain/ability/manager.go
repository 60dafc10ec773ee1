package ability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

var errTaskPanicked = errors.New("task panicked")

// Observer is notified on the manager's queue about record changes.
type Observer interface {
	OnAbilityStateChanged(r *Record, s State)
	OnAbilityDied(r *Record)
}

// Options configures a Manager.
type Options struct {
	Apps       AppScheduler
	URIs       URIGranter
	Timeouts   Timeouts
	RestartMax int
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Manager owns every ability record. All record state is touched only on
// its queue; exported methods marshal onto it and wait.
type Manager struct {
	logger  *zap.Logger
	queue   *taskqueue.Queue
	arena   *Arena
	metrics *monitoring.Metrics
	env     Env

	// queue-owned
	missions []int

	obsMu     sync.RWMutex
	observers []Observer
}

// NewManager starts a manager and its queue.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	m := &Manager{
		logger:  logger,
		queue:   taskqueue.New("ability", logger),
		arena:   NewArena(),
		metrics: opts.Metrics,
	}
	m.env = Env{
		Handler:    m,
		Apps:       opts.Apps,
		Arena:      m.arena,
		URIs:       opts.URIs,
		Timeouts:   opts.Timeouts,
		RestartMax: opts.RestartMax,
		Logger:     logger,
	}
	return m
}

// SetAppScheduler installs the app-manager bridge. It must be called
// before the first StartAbility.
func (m *Manager) SetAppScheduler(apps AppScheduler) { m.env.Apps = apps }

func (m *Manager) Arena() *Arena { return m.arena }

// Env is the environment records of this manager are built with.
func (m *Manager) Env() Env { return m.env }

// AddObserver registers o.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) notifyState(r *Record, s State) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, o := range m.observers {
		o.OnAbilityStateChanged(r, s)
	}
}

func (m *Manager) notifyDied(r *Record) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, o := range m.observers {
		o.OnAbilityDied(r)
	}
}

// Close stops the queue.
func (m *Manager) Close() { m.queue.Close() }

// Sync waits for every task posted so far.
func (m *Manager) Sync() error { return m.queue.Sync() }

func (m *Manager) call(op string, fn func() error) error {
	errc := make(chan error, 1)
	err := m.queue.Post(func() {
		result := errTaskPanicked
		defer func() { errc <- result }()
		result = fn()
	})
	if err != nil {
		return errcode.Wrap(errcode.InvalidState, op, err)
	}
	return <-errc
}

func eventKey(eventID int64) string {
	return "ability-event-" + strconv.FormatInt(eventID, 10)
}

// ============================================================================
// Handler
// ============================================================================

// SendEvent arms a lifecycle timeout that reports to OnTimeOut.
func (m *Manager) SendEvent(msg EventMsg, eventID int64, after time.Duration) {
	if err := m.queue.PostDelayed(eventKey(eventID), after, func() { m.OnTimeOut(msg, eventID) }); err != nil {
		m.logger.Warn("timeout not armed", zap.Stringer("msg", msg), zap.Error(err))
	}
}

// PostTimeoutTask runs fn after the delay unless the event is cancelled.
func (m *Manager) PostTimeoutTask(eventID int64, after time.Duration, fn func()) {
	if err := m.queue.PostDelayed(eventKey(eventID), after, fn); err != nil {
		m.logger.Warn("timeout task not armed", zap.Int64("event_id", eventID), zap.Error(err))
	}
}

// PostTask runs fn on the queue.
func (m *Manager) PostTask(fn func()) {
	if err := m.queue.Post(fn); err != nil {
		m.logger.Warn("task dropped", zap.Error(err))
	}
}

// OnAbilityDied handles a record whose scheduler died. A root launcher
// is reloaded while its restart budget lasts; anything else is removed.
func (m *Manager) OnAbilityDied(r *Record) {
	m.queue.Cancel(eventKey(r.EventID()))
	m.logger.Info("ability died",
		zap.Int64("record_id", r.recordID), zap.String("ability", r.abilityInfo.Name))
	m.notifyDied(r)

	if r.IsLauncherRoot() {
		r.SetRestarting(true)
		r.SetAbilityState(Initial)
		err := r.LoadAbility()
		if err == nil {
			return
		}
		m.logger.Error("root launcher not restarted", zap.Error(err))
	}
	m.removeRecord(r)
}

// OnCallConnectDied drops a call binding whose caller or stub died.
func (m *Manager) OnCallConnectDied(c *CallRecord) {
	if c == nil {
		return
	}
	service := m.arena.Get(c.ServiceID())
	if service == nil {
		return
	}
	service.CallContainer().RemoveCallRecord(c.Connect())
	m.logger.Info("call connection released",
		zap.Int64("call_record", c.RecordID()), zap.String("ability", service.abilityInfo.Name))
}

// ============================================================================
// Entry points
// ============================================================================

// StartAbility creates (or reuses, for singleton pages) a record and loads
// or activates it.
func (m *Manager) StartAbility(req *Request) (*Token, error) {
	var token *Token
	err := m.call("StartAbility", func() error {
		r, err := m.startAbility(req)
		if r != nil {
			token = r.token
		}
		return err
	})
	return token, err
}

func validateRequest(op string, req *Request) error {
	if req == nil || req.Want == nil {
		return errcode.New(errcode.InvalidParam, op, "request or want is nil")
	}
	if req.AbilityInfo.Name == "" || req.AbilityInfo.BundleName == "" {
		return errcode.New(errcode.InvalidParam, op, "ability name or bundle name is empty")
	}
	return nil
}

func (m *Manager) startAbility(req *Request) (*Record, error) {
	if err := validateRequest("StartAbility", req); err != nil {
		return nil, err
	}
	if req.AbilityInfo.Type == types.AbilityTypePage && req.AbilityInfo.LaunchMode == types.LaunchSingleton {
		if r := m.findRecord(req.AbilityInfo.Element()); r != nil {
			r.SetWant(req.Want)
			r.SetIsNewWant(true)
			r.AddCallerRecord(req.CallerToken, req.RequestCode)
			m.moveMissionToTop(r.missionID)
			return r, r.ProcessActivate()
		}
	}

	r := NewRecord(m.env, req)
	r.AddCallerRecord(req.CallerToken, req.RequestCode)
	if req.AbilityInfo.Type == types.AbilityTypePage {
		m.placeInMission(r)
	}
	m.metrics.SetAbilityRecords(m.arena.Len())

	if err := r.LoadAbility(); err != nil {
		m.logger.Error("load ability failed", zap.String("ability", req.AbilityInfo.Name), zap.Error(err))
		m.removeRecord(r)
		return nil, err
	}
	return r, nil
}

func (m *Manager) findRecord(element types.ElementName) *Record {
	for _, r := range m.arena.Records() {
		if r.isTerminating {
			continue
		}
		if r.abilityInfo.BundleName == element.BundleName && r.abilityInfo.Name == element.AbilityName {
			return r
		}
	}
	return nil
}

func (m *Manager) topRecord() *Record {
	if len(m.missions) == 0 {
		return nil
	}
	if mission := m.arena.Mission(m.missions[0]); mission != nil {
		return mission.Top()
	}
	return nil
}

func (m *Manager) placeInMission(r *Record) {
	top := m.topRecord()
	var mission *MissionRecord
	for _, mid := range m.missions {
		if candidate := m.arena.Mission(mid); candidate != nil && candidate.IsSameMissionRecord(r.abilityInfo.BundleName) {
			mission = candidate
			break
		}
	}
	if mission == nil {
		mission = NewMissionRecord(m.arena, r.abilityInfo.BundleName)
		if top != nil {
			mission.SetPreMissionRecord(top.MissionRecord())
			if top.IsLauncherAbility() {
				mission.SetIsLauncherCreate()
			}
		}
	}
	if top != nil && top != r {
		r.SetPreAbilityRecord(top)
		top.SetNextAbilityRecord(r)
	}
	if r.IsLauncherAbility() && m.rootLauncher() == nil {
		r.SetLauncherRoot()
	}
	mission.AddAbilityRecordToTop(r)
	r.SetMissionRecord(mission)
	m.moveMissionToTop(mission.ID())
}

func (m *Manager) rootLauncher() *Record {
	for _, r := range m.arena.Records() {
		if r.IsLauncherRoot() {
			return r
		}
	}
	return nil
}

func (m *Manager) moveMissionToTop(missionID int) {
	if missionID < 0 {
		return
	}
	for i, mid := range m.missions {
		if mid == missionID {
			m.missions = append(m.missions[:i], m.missions[i+1:]...)
			break
		}
	}
	m.missions = append([]int{missionID}, m.missions...)
}

// StartAbilityByCall binds connect to the target ability, starting it in
// the background if needed. The stub reaches connect asynchronously
// unless the binding was already complete.
func (m *Manager) StartAbilityByCall(req *Request) (ResolveResult, error) {
	result := NGInnerError
	err := m.call("StartAbilityByCall", func() error {
		if err := validateRequest("StartAbilityByCall", req); err != nil {
			return err
		}
		r := m.findRecord(req.AbilityInfo.Element())
		created := r == nil
		if created {
			r = NewRecord(m.env, req)
			r.SetStartedByCall(true)
			r.SetStartToBackground(true)
			m.metrics.SetAbilityRecords(m.arena.Len())
		}
		result = r.Resolve(req)
		switch {
		case result == NGInnerError:
			if created {
				m.removeRecord(r)
			}
			return errcode.New(errcode.InnerError, "StartAbilityByCall", "request is not a call request")
		case result == OKHasRemoteObj:
			return nil
		case r.IsReady():
			return r.CallRequest()
		case created:
			if err := r.LoadAbility(); err != nil {
				m.removeRecord(r)
				return err
			}
		}
		return nil
	})
	return result, err
}

// CallRequestDone delivers the stub an ability answered a call request with.
func (m *Manager) CallRequestDone(token *Token, stub ipc.RemoteObject) error {
	return m.call("CallRequestDone", func() error {
		r := m.arena.GetByToken(token)
		if r == nil {
			return errcode.New(errcode.NotExist, "CallRequestDone", "no ability for token")
		}
		if !r.CallRequestDone(stub) {
			return errcode.New(errcode.InvalidParam, "CallRequestDone", "call stub is nil")
		}
		return nil
	})
}

// ReleaseCall drops the call binding of connect on element.
func (m *Manager) ReleaseCall(connect Connection, element types.ElementName) error {
	return m.call("ReleaseCall", func() error {
		r := m.findRecord(element)
		if r == nil || !r.Release(connect) {
			return errcode.New(errcode.NotExist, "ReleaseCall", "no call binding for connection")
		}
		return nil
	})
}

// AttachAbilityThread binds the ability's scheduler to its record once the
// hosting process is up.
func (m *Manager) AttachAbilityThread(s Scheduler, token *Token) error {
	return m.call("AttachAbilityThread", func() error {
		if s == nil {
			return errcode.New(errcode.InvalidParam, "AttachAbilityThread", "scheduler is nil")
		}
		r := m.arena.GetByToken(token)
		if r == nil {
			return errcode.New(errcode.NotExist, "AttachAbilityThread", "no ability for token")
		}
		m.queue.Cancel(eventKey(r.EventID()))
		r.SetScheduler(s)
		r.SetStartTime()

		if r.IsStartedByCall() && r.IsNeedToCallRequest() {
			if err := r.CallRequest(); err != nil {
				return err
			}
			if r.IsStartToBackground() {
				return nil
			}
		}
		switch r.abilityInfo.Type {
		case types.AbilityTypePage:
			if m.env.Apps != nil {
				m.env.Apps.MoveToForeground(r.token)
			} else {
				r.Activate()
			}
		case types.AbilityTypeData:
			r.Activate()
		default:
			r.Inactivate()
		}
		return nil
	})
}

// OnAbilityRequestDone reacts to the app manager having moved the hosting
// process to the foreground or background.
func (m *Manager) OnAbilityRequestDone(token *Token, state AppState) error {
	return m.call("OnAbilityRequestDone", func() error {
		r := m.arena.GetByToken(token)
		if r == nil {
			return errcode.New(errcode.NotExist, "OnAbilityRequestDone", "no ability for token")
		}
		if r.abilityInfo.Type != types.AbilityTypePage {
			m.logger.Debug("process state change for non-page ability",
				zap.String("ability", r.abilityInfo.Name), zap.Stringer("state", state))
			return nil
		}
		switch state {
		case AppForeground:
			r.Activate()
		case AppBackground:
			r.MoveToBackground(func() { m.completeBackground(r) })
		default:
			m.logger.Debug("ability request done ignored", zap.Stringer("state", state))
		}
		return nil
	})
}

// OnAppStateChanged records the process state on every record of bundle.
func (m *Manager) OnAppStateChanged(bundleName string, state AppState) {
	m.PostTask(func() {
		for _, r := range m.arena.Records() {
			if r.appInfo.BundleName == bundleName {
				r.SetAppState(state)
			}
		}
	})
}

// AbilityTransitionDone is the ability's report that a transition settled.
func (m *Manager) AbilityTransitionDone(token *Token, state State, saved map[string]any) error {
	return m.call("AbilityTransitionDone", func() error {
		r := m.arena.GetByToken(token)
		if r == nil {
			return errcode.New(errcode.NotExist, "AbilityTransitionDone", "no ability for token")
		}
		m.queue.Cancel(eventKey(r.EventID()))
		m.metrics.RecordTransition(state.String())
		if saved != nil {
			r.SetSavedState(saved)
		}
		return m.dispatchTransition(r, state)
	})
}

func (m *Manager) dispatchTransition(r *Record, state State) error {
	switch state {
	case Active, ForegroundNew:
		r.SetAbilityState(state)
		m.completeForeground(r)
	case Inactive:
		r.SetAbilityState(Inactive)
		if r.abilityInfo.Type == types.AbilityTypeService {
			if r.IsCreateByConnect() {
				r.ConnectAbility()
			} else {
				r.AddStartID()
				r.CommandAbility()
			}
		}
	case Background, BackgroundNew:
		m.completeBackground(r)
	case Initial:
		m.completeTerminate(r)
	default:
		return errcode.Newf(errcode.InvalidState, "AbilityTransitionDone", "unexpected state %s", state)
	}
	m.notifyState(r, state)
	return nil
}

func (m *Manager) completeForeground(r *Record) {
	if r.savedState != nil {
		r.RestoreAbilityState()
	}
	pre := r.PreAbilityRecord()
	if pre == nil || !pre.AbilityState().IsForeground() || pre.abilityInfo.Type != types.AbilityTypePage {
		return
	}
	pre.MoveToBackground(func() { m.completeBackground(pre) })
}

func (m *Manager) completeBackground(r *Record) {
	if r.IsNewVersion() {
		r.SetAbilityState(BackgroundNew)
	} else {
		r.SetAbilityState(Background)
	}
	if r.IsTerminating() {
		r.Terminate(func() { m.completeTerminate(r) })
	}
}

func (m *Manager) completeTerminate(r *Record) {
	m.queue.Cancel(eventKey(r.EventID()))
	r.SetAbilityState(Initial)
	r.SendResultToCallers()
	if err := r.TerminateAbility(); err != nil {
		m.logger.Warn("app manager terminate failed", zap.Error(err))
	}
	back := r.PreAbilityRecord()
	m.removeRecord(r)
	if back != nil && !back.IsTerminating() && back.abilityInfo.Type == types.AbilityTypePage &&
		!back.AbilityState().IsForeground() {
		if err := back.ProcessActivate(); err != nil {
			m.logger.Warn("previous ability not reactivated", zap.Error(err))
		}
	}
}

func (m *Manager) removeRecord(r *Record) {
	if mission := r.MissionRecord(); mission != nil {
		mission.RemoveAbilityRecord(r)
		if mission.IsEmpty() {
			m.arena.RemoveMission(mission.ID())
			for i, mid := range m.missions {
				if mid == mission.ID() {
					m.missions = append(m.missions[:i], m.missions[i+1:]...)
					break
				}
			}
		}
	}
	m.arena.Remove(r.recordID)
	m.metrics.SetAbilityRecords(m.arena.Len())
}

// TerminateAbility finishes the ability behind token, leaving resultCode
// and want for its callers.
func (m *Manager) TerminateAbility(token *Token, resultCode int, want *types.Want) error {
	return m.call("TerminateAbility", func() error {
		r := m.arena.GetByToken(token)
		if r == nil {
			return errcode.New(errcode.NotExist, "TerminateAbility", "no ability for token")
		}
		m.terminate(r, resultCode, want)
		return nil
	})
}

func (m *Manager) terminate(r *Record, resultCode int, want *types.Want) {
	if r.IsTerminating() {
		return
	}
	r.SetTerminatingState()
	r.SaveResultToCallers(resultCode, want)
	if !r.IsReady() {
		m.completeTerminate(r)
		return
	}
	if r.AbilityState().IsForeground() {
		r.MoveToBackground(func() { m.completeBackground(r) })
		return
	}
	r.Terminate(func() { m.completeTerminate(r) })
}

// OnTimeOut applies the timeout policy: a load timeout kills the process,
// a stuck foreground transition terminates the ability, a stuck inactive
// transition is treated as done.
func (m *Manager) OnTimeOut(msg EventMsg, eventID int64) {
	var r *Record
	for _, candidate := range m.arena.Records() {
		if candidate.EventID() == eventID {
			r = candidate
			break
		}
	}
	if r == nil {
		return
	}
	m.metrics.RecordTimeout(msg.String())
	m.logger.Warn("lifecycle timeout",
		zap.Stringer("msg", msg), zap.Int64("record_id", r.recordID), zap.String("ability", r.abilityInfo.Name))

	switch msg {
	case LoadTimeoutMsg:
		if m.env.Apps != nil {
			m.env.Apps.KillProcessByAbilityToken(r.token)
		}
		if r.IsLauncherRoot() {
			r.SetRestarting(true)
			if err := r.LoadAbility(); err == nil {
				return
			}
		}
		r.SaveResultToCallers(-1, nil)
		m.completeTerminate(r)
	case ActiveTimeoutMsg, ForegroundNewTimeoutMsg:
		if r.IsLauncherRoot() {
			if m.env.Apps != nil {
				m.env.Apps.KillProcessByAbilityToken(r.token)
			}
			return
		}
		m.terminate(r, -1, nil)
	case InactiveTimeoutMsg:
		_ = m.dispatchTransition(r, Inactive)
	}
}

// Record resolves a token on the queue.
func (m *Manager) Record(token *Token) *Record {
	var r *Record
	_ = m.call("Record", func() error {
		r = m.arena.GetByToken(token)
		return nil
	})
	return r
}

// MissionIDs lists mission ids, top first.
func (m *Manager) MissionIDs() []int {
	var out []int
	_ = m.call("MissionIDs", func() error {
		out = append(out, m.missions...)
		return nil
	})
	return out
}

// DumpState renders missions and records in key [value] form.
func (m *Manager) DumpState() []string {
	var info []string
	_ = m.call("DumpState", func() error {
		info = append(info, "User ID #0")
		ids := make([]string, 0, len(m.missions))
		for _, mid := range m.missions {
			ids = append(ids, "#"+strconv.Itoa(mid))
		}
		info = append(info, fmt.Sprintf("  MissionStack ID #0 [ %s ]", strings.Join(ids, " ")))
		inMission := make(map[int64]bool)
		for _, mid := range m.missions {
			mission := m.arena.Mission(mid)
			if mission == nil {
				continue
			}
			for _, rid := range mission.records {
				inMission[rid] = true
			}
			mission.Dump(&info)
		}
		var rest []*Record
		for _, r := range m.arena.Records() {
			if !inMission[r.recordID] {
				rest = append(rest, r)
			}
		}
		if len(rest) > 0 {
			info = append(info, "  Standalone abilities:")
			for _, r := range rest {
				r.Dump(&info)
			}
		}
		return nil
	})
	return info
}
