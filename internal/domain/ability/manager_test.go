package ability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

type stateLog struct {
	mu     sync.Mutex
	states []State
	died   int
}

func (l *stateLog) OnAbilityStateChanged(_ *Record, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) OnAbilityDied(*Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.died++
}

func newTestManager(t *testing.T, apps *fakeApps, timeouts Timeouts) *Manager {
	t.Helper()
	m := NewManager(Options{Apps: apps, Timeouts: timeouts, RestartMax: 3})
	t.Cleanup(m.Close)
	return m
}

func TestManagerPageLifecycle(t *testing.T) {
	apps := &fakeApps{}
	m := newTestManager(t, apps, Timeouts{})
	observer := &stateLog{}
	m.AddObserver(observer)

	token, err := m.StartAbility(pageRequest("com.example.notes", "Main"))
	require.NoError(t, err)
	require.NotNil(t, token)
	loads, _, _, _ := apps.counts()
	assert.Equal(t, 1, loads)
	require.Len(t, m.MissionIDs(), 1)

	fs, _, sched := newFakeScheduler()
	require.NoError(t, m.AttachAbilityThread(sched, token))
	_, _, foregrounds, _ := apps.counts()
	assert.Equal(t, 1, foregrounds)

	require.NoError(t, m.OnAbilityRequestDone(token, AppForeground))
	assert.Equal(t, Active, fs.lastTransaction())

	require.NoError(t, m.AbilityTransitionDone(token, Active, nil))
	assert.Equal(t, Active, m.Record(token).AbilityState())

	require.NoError(t, m.TerminateAbility(token, 0, nil))
	assert.Equal(t, Background, fs.lastTransaction())
	require.NoError(t, m.AbilityTransitionDone(token, Background, nil))
	assert.Equal(t, Initial, fs.lastTransaction())
	require.NoError(t, m.AbilityTransitionDone(token, Initial, nil))

	assert.Nil(t, m.Record(token))
	assert.Empty(t, m.MissionIDs())
	_, terminates, _, _ := apps.counts()
	assert.Equal(t, 1, terminates)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []State{Active, Background, Initial}, observer.states)
}

func TestManagerRejectsBadRequests(t *testing.T) {
	m := newTestManager(t, &fakeApps{}, Timeouts{})

	_, err := m.StartAbility(&Request{})
	assert.True(t, errcode.Is(err, errcode.InvalidParam))

	err = m.AttachAbilityThread(nil, TokenFromID("tok-x"))
	assert.True(t, errcode.Is(err, errcode.InvalidParam))

	_, _, sched := newFakeScheduler()
	err = m.AttachAbilityThread(sched, TokenFromID("tok-x"))
	assert.True(t, errcode.Is(err, errcode.NotExist))

	assert.True(t, errcode.Is(m.TerminateAbility(TokenFromID("tok-x"), 0, nil), errcode.NotExist))
}

func TestManagerSingletonReuse(t *testing.T) {
	m := newTestManager(t, &fakeApps{}, Timeouts{})
	req := pageRequest("com.example.notes", "Main")
	req.AbilityInfo.LaunchMode = types.LaunchSingleton

	first, err := m.StartAbility(req)
	require.NoError(t, err)
	second, err := m.StartAbility(req)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, m.Arena().Len())
}

func TestManagerLoadTimeoutKillsProcess(t *testing.T) {
	apps := &fakeApps{}
	timeouts := DefaultTimeouts()
	timeouts.Load = 10 * time.Millisecond
	m := newTestManager(t, apps, timeouts)

	_, err := m.StartAbility(pageRequest("com.example.notes", "Main"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, _, kills := apps.counts()
		return kills == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Sync())
	assert.Zero(t, m.Arena().Len())
}

func TestManagerAttachCancelsLoadTimeout(t *testing.T) {
	apps := &fakeApps{}
	timeouts := DefaultTimeouts()
	timeouts.Load = 30 * time.Millisecond
	m := newTestManager(t, apps, timeouts)

	token, err := m.StartAbility(pageRequest("com.example.notes", "Main"))
	require.NoError(t, err)
	_, _, sched := newFakeScheduler()
	require.NoError(t, m.AttachAbilityThread(sched, token))

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.Sync())
	_, _, _, kills := apps.counts()
	assert.Zero(t, kills)
	assert.NotNil(t, m.Record(token))
}

func TestManagerRootLauncherRestartsUntilBudgetSpent(t *testing.T) {
	apps := &fakeApps{}
	m := NewManager(Options{Apps: apps, RestartMax: 2})
	t.Cleanup(m.Close)
	observer := &stateLog{}
	m.AddObserver(observer)

	req := pageRequest("com.example.launcher", "LauncherAbility")
	req.AppInfo.IsLauncherApp = true
	token, err := m.StartAbility(req)
	require.NoError(t, err)
	require.True(t, m.Record(token).IsLauncherRoot())

	for i := 0; i < 2; i++ {
		_, obj, sched := newFakeScheduler()
		require.NoError(t, m.AttachAbilityThread(sched, token))
		obj.Kill()
		require.NoError(t, m.Sync())
		require.NoError(t, m.Sync())
	}
	require.Nil(t, m.Record(token), "restart budget spent, launcher removed")

	loads, _, _, _ := apps.counts()
	assert.Equal(t, 2, loads, "initial load plus one restart")
	observer.mu.Lock()
	assert.Equal(t, 2, observer.died)
	observer.mu.Unlock()
}

func TestManagerStartAbilityByCall(t *testing.T) {
	apps := &fakeApps{}
	m := newTestManager(t, apps, Timeouts{})
	conn := newFakeConnection()

	req := callRequest(conn)
	result, err := m.StartAbilityByCall(req)
	require.NoError(t, err)
	assert.Equal(t, OKNoRemoteObj, result)
	loads, _, _, _ := apps.counts()
	require.Equal(t, 1, loads)

	token := m.Arena().Records()[0].Token()
	fs, _, sched := newFakeScheduler()
	require.NoError(t, m.AttachAbilityThread(sched, token))
	assert.Equal(t, 1, fs.callRequests)
	_, _, foregrounds, _ := apps.counts()
	assert.Zero(t, foregrounds, "call targets start in the background")

	require.NoError(t, m.CallRequestDone(token, newStub()))
	assert.Equal(t, 1, conn.connectCount())

	result, err = m.StartAbilityByCall(req)
	require.NoError(t, err)
	assert.Equal(t, OKHasRemoteObj, result)

	require.NoError(t, m.ReleaseCall(conn, req.AbilityInfo.Element()))
	assert.True(t, errcode.Is(m.ReleaseCall(conn, req.AbilityInfo.Element()), errcode.NotExist))
}

func TestManagerDumpState(t *testing.T) {
	m := newTestManager(t, &fakeApps{}, Timeouts{})
	_, err := m.StartAbility(pageRequest("com.example.notes", "Main"))
	require.NoError(t, err)

	info := m.DumpState()
	require.NotEmpty(t, info)
	assert.Equal(t, "User ID #0", info[0])
	assert.Contains(t, info, "        main name [Main]")
}
