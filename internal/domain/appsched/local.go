package appsched

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// LoadHook is told about every ability the process manager loads, so a
// host can start the ability and attach its scheduler.
type LoadHook func(token *ability.Token, info types.AbilityInfo, app types.ApplicationInfo)

type process struct {
	name   string
	bundle string
	pid    int32
	uid    int32
	state  ability.AppState
	tokens map[id.ObjectID]ability.State
}

// LocalAppManager is an in-process application-process manager. It keeps
// the process table and reports state changes to registered callbacks on
// its own queue, never on the caller's goroutine.
type LocalAppManager struct {
	logger *zap.Logger
	queue  *taskqueue.Queue
	pids   *id.Sequence

	mu        sync.Mutex
	processes map[string]*process
	byToken   map[id.ObjectID]string
	callbacks map[id.ObjectID]*CallbackProxy
	recipient *ipc.DeathRecipient
	hook      LoadHook
}

var _ AppManager = (*LocalAppManager)(nil)

// NewLocalAppManager creates an empty process table.
func NewLocalAppManager(logger *zap.Logger) *LocalAppManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &LocalAppManager{
		logger:    logger,
		queue:     taskqueue.New("appmgr", logger),
		pids:      id.NewSequence(1000),
		processes: make(map[string]*process),
		byToken:   make(map[id.ObjectID]string),
		callbacks: make(map[id.ObjectID]*CallbackProxy),
	}
	m.recipient = ipc.NewDeathRecipient(m.onCallbackDied)
	return m
}

// SetLoadHook installs the load observer.
func (m *LocalAppManager) SetLoadHook(h LoadHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Close stops callback delivery.
func (m *LocalAppManager) Close() { m.queue.Close() }

// Sync waits for queued callbacks.
func (m *LocalAppManager) Sync() error { return m.queue.Sync() }

func processName(app types.ApplicationInfo) string {
	if app.ProcessName != "" {
		return app.ProcessName
	}
	return app.BundleName
}

func (m *LocalAppManager) LoadAbility(_ context.Context, token, _ *ability.Token, info types.AbilityInfo, app types.ApplicationInfo) error {
	if token == nil || app.BundleName == "" {
		return errcode.New(errcode.InvalidParam, "LoadAbility", "token or bundle name missing")
	}
	name := processName(app)
	m.mu.Lock()
	p, ok := m.processes[name]
	if !ok {
		p = &process{
			name:   name,
			bundle: app.BundleName,
			pid:    int32(m.pids.Next()),
			uid:    int32(app.UID),
			state:  ability.AppReady,
			tokens: make(map[id.ObjectID]ability.State),
		}
		m.processes[name] = p
	}
	p.tokens[token.ID()] = ability.Initial
	m.byToken[token.ID()] = name
	hook := m.hook
	data := p.data()
	m.mu.Unlock()

	m.logger.Debug("ability loaded",
		zap.String("process", name), zap.String("ability", info.Name), zap.Bool("new_process", !ok))
	if !ok {
		m.notifyAppState(data)
	}
	if hook != nil {
		m.post(func() { hook(token, info, app) })
	}
	return nil
}

func (p *process) data() AppProcessData {
	return AppProcessData{BundleName: p.bundle, ProcessName: p.name, PID: p.pid, UID: p.uid, State: p.state}
}

func (m *LocalAppManager) processOf(token *ability.Token) *process {
	name, ok := m.byToken[token.ID()]
	if !ok {
		return nil
	}
	return m.processes[name]
}

func (m *LocalAppManager) TerminateAbility(_ context.Context, token *ability.Token) error {
	m.mu.Lock()
	p := m.processOf(token)
	if p == nil {
		m.mu.Unlock()
		return errcode.New(errcode.NotExist, "TerminateAbility", "no process for token")
	}
	delete(p.tokens, token.ID())
	delete(m.byToken, token.ID())
	var data *AppProcessData
	if len(p.tokens) == 0 {
		d := m.removeLocked(p)
		data = &d
	}
	m.mu.Unlock()
	if data != nil {
		m.notifyAppState(*data)
	}
	return nil
}

func (m *LocalAppManager) removeLocked(p *process) AppProcessData {
	for t := range p.tokens {
		delete(m.byToken, t)
	}
	delete(m.processes, p.name)
	p.state = ability.AppTerminated
	return p.data()
}

func (m *LocalAppManager) UpdateAbilityState(_ context.Context, token *ability.Token, state ability.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.processOf(token)
	if p == nil {
		return errcode.New(errcode.NotExist, "UpdateAbilityState", "no process for token")
	}
	p.tokens[token.ID()] = state
	return nil
}

func (m *LocalAppManager) UpdateExtensionState(_ context.Context, token *ability.Token, state ExtensionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processOf(token) == nil {
		return errcode.New(errcode.NotExist, "UpdateExtensionState", "no process for token")
	}
	m.logger.Debug("extension state", zap.Stringer("token", token), zap.Int("state", int(state)))
	return nil
}

func (m *LocalAppManager) AbilityBehaviorAnalysis(_ context.Context, token, _ *ability.Token, visibility, perceptibility, _ int) error {
	m.logger.Debug("ability behavior",
		zap.Stringer("token", token), zap.Int("visibility", visibility), zap.Int("perceptibility", perceptibility))
	return nil
}

func (m *LocalAppManager) KillProcessByAbilityToken(_ context.Context, token *ability.Token) error {
	m.mu.Lock()
	p := m.processOf(token)
	if p == nil {
		m.mu.Unlock()
		return errcode.New(errcode.NotExist, "KillProcessByAbilityToken", "no process for token")
	}
	data := m.removeLocked(p)
	m.mu.Unlock()
	m.logger.Info("process killed", zap.String("process", data.ProcessName), zap.Int32("pid", data.PID))
	m.notifyAppState(data)
	return nil
}

func (m *LocalAppManager) killWhere(match func(p *process) bool) int {
	m.mu.Lock()
	var killed []AppProcessData
	for _, p := range m.processes {
		if match(p) {
			killed = append(killed, m.removeLocked(p))
		}
	}
	m.mu.Unlock()
	for _, d := range killed {
		m.notifyAppState(d)
	}
	return len(killed)
}

func (m *LocalAppManager) KillProcessesByUserID(_ context.Context, userID int32) error {
	n := m.killWhere(func(p *process) bool { return ipc.UserID(p.uid) == userID })
	m.logger.Info("user processes killed", zap.Int32("user_id", userID), zap.Int("count", n))
	return nil
}

func (m *LocalAppManager) moveTo(op string, token *ability.Token, state ability.AppState) error {
	m.mu.Lock()
	p := m.processOf(token)
	if p == nil {
		m.mu.Unlock()
		return errcode.New(errcode.NotExist, op, "no process for token")
	}
	changed := p.state != state
	p.state = state
	data := p.data()
	m.mu.Unlock()

	if changed {
		m.notifyAppState(data)
	}
	m.post(func() {
		for _, cb := range m.callbackList() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			if err := cb.OnAbilityRequestDone(ctx, token, state); err != nil {
				m.logger.Warn("ability request done not delivered", zap.Error(err))
			}
			cancel()
		}
	})
	return nil
}

func (m *LocalAppManager) MoveToForeground(_ context.Context, token *ability.Token) error {
	return m.moveTo("MoveToForeground", token, ability.AppForeground)
}

func (m *LocalAppManager) MoveToBackground(_ context.Context, token *ability.Token) error {
	return m.moveTo("MoveToBackground", token, ability.AppBackground)
}

func (m *LocalAppManager) AttachTimeOut(_ context.Context, token *ability.Token) error {
	m.logger.Warn("ability attach timed out", zap.Stringer("token", token))
	return nil
}

func (m *LocalAppManager) PrepareTerminate(_ context.Context, token *ability.Token) error {
	m.logger.Debug("prepare terminate", zap.Stringer("token", token))
	return nil
}

func (m *LocalAppManager) KillApplication(_ context.Context, bundleName string) error {
	if m.killWhere(func(p *process) bool { return p.bundle == bundleName }) == 0 {
		return errcode.New(errcode.NotExist, "KillApplication", "no process for bundle "+bundleName)
	}
	return nil
}

func (m *LocalAppManager) ClearUpApplicationData(_ context.Context, bundleName string) error {
	m.killWhere(func(p *process) bool { return p.bundle == bundleName })
	m.logger.Info("application data cleared", zap.String("bundle", bundleName))
	return nil
}

func (m *LocalAppManager) GetRunningProcessInfoByToken(_ context.Context, token *ability.Token) (RunningProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.processOf(token)
	if p == nil {
		return RunningProcessInfo{}, errcode.New(errcode.NotExist, "GetRunningProcessInfoByToken", "no process for token")
	}
	return RunningProcessInfo{ProcessName: p.name, PID: p.pid, UID: p.uid, State: p.state, Bundles: []string{p.bundle}}, nil
}

func (m *LocalAppManager) RegisterAppStateCallback(_ context.Context, callback ipc.RemoteObject) error {
	if callback == nil {
		return errcode.New(errcode.InvalidParam, "RegisterAppStateCallback", "callback is nil")
	}
	m.mu.Lock()
	m.callbacks[callback.ID()] = NewCallbackProxy(callback)
	m.mu.Unlock()
	if !callback.AddDeathRecipient(m.recipient) {
		m.onCallbackDied(callback)
	}
	return nil
}

func (m *LocalAppManager) onCallbackDied(obj ipc.RemoteObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, obj.ID())
}

// RunningProcesses lists every process ordered by name.
func (m *LocalAppManager) RunningProcesses() []RunningProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunningProcessInfo, 0, len(m.processes))
	for _, p := range m.processes {
		out = append(out, RunningProcessInfo{ProcessName: p.name, PID: p.pid, UID: p.uid, State: p.state, Bundles: []string{p.bundle}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessName < out[j].ProcessName })
	return out
}

func (m *LocalAppManager) callbackList() []*CallbackProxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CallbackProxy, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		out = append(out, cb)
	}
	return out
}

func (m *LocalAppManager) notifyAppState(data AppProcessData) {
	m.post(func() {
		for _, cb := range m.callbackList() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			if err := cb.OnAppStateChanged(ctx, data); err != nil {
				m.logger.Warn("app state change not delivered", zap.Error(err))
			}
			cancel()
		}
	})
}

func (m *LocalAppManager) post(fn func()) {
	if err := m.queue.Post(fn); err != nil {
		m.logger.Debug("app manager task dropped", zap.Error(err))
	}
}
