package dataability

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// DefaultLoadTimeout bounds how long Acquire waits for a data ability to
// become active.
const DefaultLoadTimeout = 11 * time.Second

// AbilityStarter starts ability records; *ability.Manager implements it.
type AbilityStarter interface {
	StartAbility(req *ability.Request) (*ability.Token, error)
}

// Options configures a Manager.
type Options struct {
	Abilities   AbilityStarter
	Apps        ability.AppScheduler
	Bundles     bundle.Manager
	LoadTimeout time.Duration
	// MonitorSystemClients installs a death recipient on system clients;
	// when one dies all of its system entries go at once.
	MonitorSystemClients bool
	Metrics              *monitoring.Metrics
	Logger               *zap.Logger
}

// Manager tracks loading and loaded data abilities by bundle.ability key.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	loading map[string]*Record
	loaded  map[string]*Record

	watched map[id.ObjectID]*ipc.DeathRecipient
}

var _ ability.Observer = (*Manager)(nil)

// NewManager creates an empty manager. Register it as an observer on the
// ability manager so it learns about state changes and deaths.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	m := &Manager{
		opts:    opts,
		logger:  opts.Logger,
		loading: make(map[string]*Record),
		loaded:  make(map[string]*Record),
		watched: make(map[id.ObjectID]*ipc.DeathRecipient),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// AcquireByURI resolves uri to a data ability and acquires it.
func (m *Manager) AcquireByURI(uri string, tryBind bool, client ipc.RemoteObject, isSystem bool) (ability.Scheduler, error) {
	if m.opts.Bundles == nil {
		return nil, errcode.New(errcode.GetBmsFailed, "AcquireByURI", "bundle manager unavailable")
	}
	info, err := m.opts.Bundles.QueryAbilityByURI(uri)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotExist, "AcquireByURI", err)
	}
	_, app, err := m.opts.Bundles.GetAbilityInfo(info.Element())
	if err != nil {
		return nil, errcode.Wrap(errcode.GetBmsFailed, "AcquireByURI", err)
	}
	want := types.NewWant(info.BundleName, info.Name)
	want.URI = uri
	req := &ability.Request{
		Want:        want,
		AbilityInfo: *info,
		AppInfo:     *app,
		UID:         int32(app.UID),
	}
	return m.Acquire(req, tryBind, client, isSystem)
}

// Acquire returns the scheduler of the data ability req names, loading
// it first if needed. The calling goroutine blocks until the ability is
// active or the load timeout passes.
func (m *Manager) Acquire(req *ability.Request, tryBind bool, client ipc.RemoteObject, isSystem bool) (ability.Scheduler, error) {
	if req == nil || req.AbilityInfo.Name == "" || req.AbilityInfo.BundleName == "" {
		return nil, errcode.New(errcode.InvalidParam, "Acquire", "ability name or bundle name is empty")
	}
	if req.AbilityInfo.Type != types.AbilityTypeData {
		return nil, errcode.New(errcode.InvalidParam, "Acquire", "not a data ability: "+req.AbilityInfo.Name)
	}
	key := req.AbilityInfo.BundleName + "." + req.AbilityInfo.Name

	m.mu.Lock()
	rec, ok := m.loaded[key]
	if !ok {
		var err error
		if rec, err = m.loadLocked(key, req); err != nil {
			m.mu.Unlock()
			m.opts.Metrics.RecordDataAcquire(resultLabel(err))
			return nil, err
		}
	}
	scheduler := rec.scheduler
	if rec.addClient(ClientInfo{Client: client, TryBind: tryBind, IsSystem: isSystem}) {
		m.moveToForeground(rec)
	}
	m.mu.Unlock()

	if isSystem && client != nil && m.opts.MonitorSystemClients {
		m.watchSystemClient(client)
	}
	m.opts.Metrics.RecordDataAcquire("ok")
	m.logger.Debug("data ability acquired", zap.String("key", key), zap.Bool("system", isSystem))
	return scheduler, nil
}

func resultLabel(err error) string {
	if errcode.Is(err, errcode.TimedOut) {
		return "timeout"
	}
	return "error"
}

// loadLocked starts or joins loading key and waits under m.mu until the
// ability is active or the deadline passes.
func (m *Manager) loadLocked(key string, req *ability.Request) (*Record, error) {
	rec, ok := m.loading[key]
	if !ok {
		rec = newRecord(req)
		m.loading[key] = rec

		m.mu.Unlock()
		token, err := m.opts.Abilities.StartAbility(req)
		m.mu.Lock()
		if err != nil {
			if m.loading[key] == rec {
				delete(m.loading, key)
			}
			m.cond.Broadcast()
			return nil, errcode.Wrap(errcode.InnerError, "Acquire", err)
		}
		rec.token = token
	}

	deadline := time.Now().Add(m.opts.LoadTimeout)
	timer := time.AfterFunc(m.opts.LoadTimeout, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	for !rec.isLoaded() && m.loading[key] == rec && time.Now().Before(deadline) {
		m.cond.Wait()
	}

	if loaded, ok := m.loaded[key]; ok && loaded == rec {
		return rec, nil
	}
	if !rec.isLoaded() {
		if m.loading[key] == rec {
			delete(m.loading, key)
		}
		m.logger.Error("data ability load timed out", zap.String("key", key))
		return nil, errcode.New(errcode.TimedOut, "Acquire", "data ability did not become active: "+key)
	}
	delete(m.loading, key)
	rec.loadedAt = time.Now()
	m.loaded[key] = rec
	return rec, nil
}

func (m *Manager) moveToForeground(rec *Record) {
	if m.opts.Apps != nil && rec.token != nil {
		m.opts.Apps.MoveToForeground(rec.token)
	}
}

func (m *Manager) moveToBackground(rec *Record) {
	if m.opts.Apps != nil && rec.token != nil {
		m.opts.Apps.MoveToBackground(rec.token)
	}
}

// Release drops one acquisition of the data ability behind scheduler.
func (m *Manager) Release(scheduler ability.Scheduler, client ipc.RemoteObject, isSystem bool) error {
	if scheduler == nil || scheduler.Object() == nil {
		return errcode.New(errcode.InvalidParam, "Release", "scheduler is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.loaded {
		if rec.scheduler == nil || rec.scheduler.Object().ID() != scheduler.Object().ID() {
			continue
		}
		found, empty := rec.removeClient(client, isSystem)
		if !found {
			return errcode.New(errcode.NotExist, "Release", "client does not hold "+rec.key())
		}
		if empty {
			m.moveToBackground(rec)
		}
		return nil
	}
	return errcode.New(errcode.NotExist, "Release", "data ability not loaded")
}

// ContainsDataAbility reports whether scheduler belongs to a loaded data
// ability.
func (m *Manager) ContainsDataAbility(scheduler ability.Scheduler) bool {
	if scheduler == nil || scheduler.Object() == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.loaded {
		if rec.scheduler != nil && rec.scheduler.Object().ID() == scheduler.Object().ID() {
			return true
		}
	}
	return false
}

// ClientCount returns the acquisitions held on key.
func (m *Manager) ClientCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.loaded[key]; ok {
		return rec.ClientCount()
	}
	return 0
}

// IsLoaded reports whether key is loaded.
func (m *Manager) IsLoaded(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[key]
	return ok
}

func (m *Manager) watchSystemClient(client ipc.RemoteObject) {
	m.mu.Lock()
	if _, ok := m.watched[client.ID()]; ok {
		m.mu.Unlock()
		return
	}
	recipient := ipc.NewDeathRecipient(m.onSystemClientDied)
	m.watched[client.ID()] = recipient
	m.mu.Unlock()

	if !client.AddDeathRecipient(recipient) {
		m.onSystemClientDied(client)
	}
}

// onSystemClientDied removes every system entry of client from every
// data ability.
func (m *Manager) onSystemClientDied(client ipc.RemoteObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, client.ID())
	for _, rec := range m.loaded {
		removed, empty := rec.removeClients(func(c ClientInfo) bool {
			return c.IsSystem && sameObject(c.Client, client)
		})
		if removed > 0 && empty {
			m.moveToBackground(rec)
		}
	}
	m.logger.Info("system data ability client died", zap.Stringer("client", client.ID()))
}

// OnAbilityStateChanged wakes acquirers waiting for a data ability.
func (m *Manager) OnAbilityStateChanged(r *ability.Record, s ability.State) {
	info := r.AbilityInfo()
	if info.Type != types.AbilityTypeData {
		return
	}
	key := info.BundleName + "." + info.Name
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.loading[key]
	if !ok {
		rec, ok = m.loaded[key]
	}
	if !ok {
		return
	}
	rec.state = s
	if s == ability.Active {
		rec.scheduler = r.Scheduler()
		if rec.token == nil {
			rec.token = r.Token()
		}
	}
	m.cond.Broadcast()
}

// OnAbilityDied purges a died data ability, kills processes that bound to
// it with tryBind, drops the died ability from every client list and
// revives keep-alive main abilities of legacy modules.
func (m *Manager) OnAbilityDied(r *ability.Record) {
	info := r.AbilityInfo()
	key := info.BundleName + "." + info.Name
	dead := r.Token().ID()

	m.mu.Lock()
	var revive bool
	if info.Type == types.AbilityTypeData {
		if rec, ok := m.loaded[key]; ok && rec.token != nil && rec.token.ID() == dead {
			for _, c := range rec.clients {
				if c.TryBind && !c.IsSystem && c.Client != nil && m.opts.Apps != nil {
					m.opts.Apps.KillProcessByAbilityToken(ability.TokenFromID(c.Client.ID()))
				}
			}
			delete(m.loaded, key)
			revive = true
		}
		if rec, ok := m.loading[key]; ok && rec.token != nil && rec.token.ID() == dead {
			delete(m.loading, key)
			m.cond.Broadcast()
		}
	}
	for _, rec := range m.loaded {
		removed, empty := rec.removeClients(func(c ClientInfo) bool {
			return !c.IsSystem && c.Client != nil && c.Client.ID() == dead
		})
		if removed > 0 && empty {
			m.moveToBackground(rec)
		}
	}
	m.mu.Unlock()

	if revive && m.shouldRevive(info) {
		m.logger.Info("reviving keep-alive data ability", zap.String("key", key))
		go func() {
			if _, err := m.AcquireByURI(info.URI, false, nil, true); err != nil {
				m.logger.Error("keep-alive data ability not revived", zap.String("key", key), zap.Error(err))
			}
		}()
	}
}

// shouldRevive holds for the keep-alive main ability of a legacy module.
func (m *Manager) shouldRevive(info types.AbilityInfo) bool {
	if m.opts.Bundles == nil || info.URI == "" {
		return false
	}
	bi, err := m.opts.Bundles.GetBundleInfo(info.BundleName, 0)
	if err != nil || !bi.Application.KeepAlive {
		return false
	}
	mod, ok := bi.Module(info.ModuleName)
	return ok && !mod.IsModuleJSON && mod.MainElement == info.Name
}

// DumpState renders every loading and loaded data ability.
func (m *Manager) DumpState() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := []string{"  DataAbilityRecords:"}
	for _, group := range []struct {
		title string
		recs  map[string]*Record
	}{{"  Loading:", m.loading}, {"  Loaded:", m.loaded}} {
		if len(group.recs) == 0 {
			continue
		}
		info = append(info, group.title)
		keys := make([]string, 0, len(group.recs))
		for k := range group.recs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			group.recs[k].dump(&info)
		}
	}
	return info
}
