package ability

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

type fakeScheduler struct {
	mu           sync.Mutex
	transactions []State
	results      []AbilityResult
	connects     int
	commands     int
	callRequests int
	saves        int
}

func newFakeScheduler() (*fakeScheduler, *ipc.LocalObject, Scheduler) {
	fs := &fakeScheduler{}
	obj := ipc.NewLocalObject("sched", NewSchedulerStub(fs))
	return fs, obj, NewSchedulerProxy(obj)
}

func (f *fakeScheduler) ScheduleAbilityTransaction(_ context.Context, _ *types.Want, info LifeCycleStateInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions = append(f.transactions, info.State)
	return nil
}

func (f *fakeScheduler) SendResult(_ context.Context, requestCode, resultCode int, want *types.Want) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, AbilityResult{RequestCode: requestCode, ResultCode: resultCode, Want: want})
	return nil
}

func (f *fakeScheduler) ScheduleConnectAbility(context.Context, *types.Want) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeScheduler) ScheduleDisconnectAbility(context.Context, *types.Want) error { return nil }

func (f *fakeScheduler) ScheduleCommandAbility(context.Context, *types.Want, bool, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands++
	return nil
}

func (f *fakeScheduler) ScheduleSaveAbilityState(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeScheduler) ScheduleRestoreAbilityState(context.Context, map[string]any) error {
	return nil
}
func (f *fakeScheduler) ContinueAbility(context.Context, string) error             { return nil }
func (f *fakeScheduler) NotifyContinuationResult(context.Context, int32) error     { return nil }
func (f *fakeScheduler) NotifyTopActiveAbilityChanged(context.Context, bool) error { return nil }

func (f *fakeScheduler) CallRequest(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callRequests++
	return nil
}

func (f *fakeScheduler) lastTransaction() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transactions) == 0 {
		return -1
	}
	return f.transactions[len(f.transactions)-1]
}

func (f *fakeScheduler) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fakeApps struct {
	mu          sync.Mutex
	loads       int
	terminates  int
	foregrounds int
	backgrounds int
	kills       int
	loadErr     error
}

func (f *fakeApps) LoadAbility(_, _ *Token, _ types.AbilityInfo, _ types.ApplicationInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeApps) TerminateAbility(*Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	return nil
}

func (f *fakeApps) MoveToForeground(*Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foregrounds++
}

func (f *fakeApps) MoveToBackground(*Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backgrounds++
}

func (f *fakeApps) AbilityBehaviorAnalysis(_, _ *Token, _, _, _ int) {}

func (f *fakeApps) KillProcessByAbilityToken(*Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
}

func (f *fakeApps) counts() (loads, terminates, foregrounds, kills int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.terminates, f.foregrounds, f.kills
}

type sentEvent struct {
	msg     EventMsg
	eventID int64
}

// fakeHandler queues posted tasks until the test runs them.
type fakeHandler struct {
	mu        sync.Mutex
	events    []sentEvent
	timeouts  []int64
	tasks     []func()
	died      []*Record
	callsDied []*CallRecord
}

func (h *fakeHandler) SendEvent(msg EventMsg, eventID int64, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{msg: msg, eventID: eventID})
}

func (h *fakeHandler) PostTimeoutTask(eventID int64, _ time.Duration, _ func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeouts = append(h.timeouts, eventID)
}

func (h *fakeHandler) PostTask(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, fn)
}

func (h *fakeHandler) OnAbilityDied(r *Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.died = append(h.died, r)
}

func (h *fakeHandler) OnCallConnectDied(c *CallRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callsDied = append(h.callsDied, c)
}

// drain runs queued tasks, including ones queued while draining, and
// returns how many ran.
func (h *fakeHandler) drain() int {
	ran := 0
	for {
		h.mu.Lock()
		if len(h.tasks) == 0 {
			h.mu.Unlock()
			return ran
		}
		fn := h.tasks[0]
		h.tasks = h.tasks[1:]
		h.mu.Unlock()
		fn()
		ran++
	}
}

func (h *fakeHandler) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

type fakeConnection struct {
	obj *ipc.LocalObject

	mu          sync.Mutex
	connected   int
	lastRemote  ipc.RemoteObject
	disconnects int
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{obj: ipc.NewLocalObject("conn", ipc.HandlerFunc(
		func(context.Context, uint32, *ipc.Parcel) (*ipc.Parcel, error) { return nil, nil }))}
}

func (c *fakeConnection) OnAbilityConnectDone(_ types.ElementName, remote ipc.RemoteObject, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected++
	c.lastRemote = remote
}

func (c *fakeConnection) OnAbilityDisconnectDone(types.ElementName, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeConnection) Object() ipc.RemoteObject { return c.obj }

func (c *fakeConnection) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func testEnv(h Handler, apps AppScheduler) Env {
	return Env{
		Handler:    h,
		Apps:       apps,
		Arena:      NewArena(),
		URIs:       NewURIGrants(nil),
		Timeouts:   DefaultTimeouts(),
		RestartMax: 3,
	}
}

func pageRequest(bundle, ability string) *Request {
	return &Request{
		Want: types.NewWant(bundle, ability),
		AbilityInfo: types.AbilityInfo{
			Name:       ability,
			BundleName: bundle,
			Type:       types.AbilityTypePage,
		},
		AppInfo: types.ApplicationInfo{Name: bundle, BundleName: bundle},
	}
}
