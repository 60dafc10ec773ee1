package ability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

func launcherRecord(t *testing.T, restartMax int) (*Record, *fakeApps) {
	t.Helper()
	apps := &fakeApps{}
	env := testEnv(&fakeHandler{}, apps)
	env.RestartMax = restartMax
	req := pageRequest("com.example.launcher", "LauncherAbility")
	req.AppInfo.IsLauncherApp = true
	r := NewRecord(env, req)
	r.SetLauncherRoot()
	return r, apps
}

func TestRestartBudgetExhaustion(t *testing.T) {
	for _, budget := range []int{1, 3, 5} {
		r, apps := launcherRecord(t, budget)

		for i := 0; i < budget-1; i++ {
			r.SetRestarting(true)
		}
		require.NoError(t, r.LoadAbility(), "budget %d should allow a load after %d restarts", budget, budget-1)

		r.SetRestarting(true)
		err := r.LoadAbility()
		require.Error(t, err)
		assert.True(t, errcode.Is(err, errcode.InvalidState))

		loads, _, _, _ := apps.counts()
		assert.Equal(t, 1, loads, "exhausted budget must not reach the app manager")
	}
}

func TestRestartBudgetResetsOnForeground(t *testing.T) {
	r, _ := launcherRecord(t, 2)
	r.SetRestarting(true)
	r.SetRestarting(true)
	assert.False(t, r.CanRestartRootLauncher())

	r.SetAbilityState(Active)
	assert.Equal(t, 2, r.RestartCount())
	assert.False(t, r.IsRestarting())
	assert.True(t, r.CanRestartRootLauncher())

	r.SetRestarting(true)
	r.SetRestarting(true)
	r.SetAbilityState(ForegroundNew)
	assert.Equal(t, 2, r.RestartCount())
}

func TestRestartBudgetIgnoresOrdinaryAbilities(t *testing.T) {
	r := NewRecord(testEnv(&fakeHandler{}, &fakeApps{}), pageRequest("com.example.notes", "Main"))
	for i := 0; i < 10; i++ {
		r.SetRestarting(true)
	}
	assert.Equal(t, 3, r.RestartCount())
	assert.True(t, r.CanRestartRootLauncher())
	assert.NoError(t, r.LoadAbility())
}

func TestLoadAbilityArmsTimeout(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecord(testEnv(h, &fakeApps{}), pageRequest("com.example.notes", "Main"))
	require.NoError(t, r.LoadAbility())
	require.Len(t, h.events, 1)
	assert.Equal(t, LoadTimeoutMsg, h.events[0].msg)
	assert.Equal(t, r.EventID(), h.events[0].eventID)

	dataReq := pageRequest("com.example.contacts", "ContactsData")
	dataReq.AbilityInfo.Type = types.AbilityTypeData
	h2 := &fakeHandler{}
	d := NewRecord(testEnv(h2, &fakeApps{}), dataReq)
	require.NoError(t, d.LoadAbility())
	assert.Empty(t, h2.events, "data abilities load without a watchdog")
}

func TestLoadAbilityRequiresApplicationName(t *testing.T) {
	req := pageRequest("com.example.notes", "Main")
	req.AppInfo.Name = ""
	r := NewRecord(testEnv(&fakeHandler{}, &fakeApps{}), req)
	assert.True(t, errcode.Is(r.LoadAbility(), errcode.InvalidParam))
}

func TestActivateOrdering(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecord(testEnv(h, &fakeApps{}), pageRequest("com.example.notes", "Main"))
	fs, _, sched := newFakeScheduler()
	r.SetScheduler(sched)

	r.Activate()
	assert.Equal(t, Activating, r.AbilityState())
	require.Len(t, h.events, 1)
	assert.Equal(t, ActiveTimeoutMsg, h.events[0].msg)
	assert.Equal(t, r.EventID(), h.events[0].eventID)
	assert.Equal(t, Active, fs.lastTransaction())

	first := r.EventID()
	r.Inactivate()
	assert.Equal(t, Inactivating, r.AbilityState())
	assert.Greater(t, r.EventID(), first, "every transition gets a fresh event id")
	assert.Equal(t, Inactive, fs.lastTransaction())
}

func TestNewVersionPageUsesForegroundFamily(t *testing.T) {
	h := &fakeHandler{}
	req := pageRequest("com.example.notes", "Main")
	req.CompatibleVersion = 8
	r := NewRecord(testEnv(h, &fakeApps{}), req)
	fs, _, sched := newFakeScheduler()
	r.SetScheduler(sched)
	require.True(t, r.IsNewVersion())

	r.Activate()
	assert.Equal(t, ForegroundingNew, r.AbilityState())
	assert.Equal(t, ForegroundNewTimeoutMsg, h.events[0].msg)
	assert.Equal(t, ForegroundNew, fs.lastTransaction())

	r.Inactivate()
	assert.Equal(t, ForegroundingNew, r.AbilityState(), "inactivate is a no-op for new-version pages")

	r.MoveToBackground(func() {})
	assert.Equal(t, BackgroundingNew, r.AbilityState())
	assert.Equal(t, BackgroundNew, fs.lastTransaction())

	svc := pageRequest("com.example.notes", "Sync")
	svc.CompatibleVersion = 8
	svc.AbilityInfo.Type = types.AbilityTypeService
	assert.False(t, NewRecord(testEnv(h, &fakeApps{}), svc).IsNewVersion())
}

func TestMoveToBackgroundSavesState(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecord(testEnv(h, &fakeApps{}), pageRequest("com.example.notes", "Main"))
	fs, _, sched := newFakeScheduler()
	r.SetScheduler(sched)

	r.MoveToBackground(func() {})
	assert.Equal(t, MovingBackground, r.AbilityState())
	assert.Equal(t, []int64{r.EventID()}, h.timeouts)
	assert.Equal(t, 1, fs.saves)

	r.SetTerminatingState()
	r.MoveToBackground(func() {})
	assert.Equal(t, 1, fs.saves, "terminating abilities are not asked to save state")
}

func TestSchedulerDeathPostsCleanup(t *testing.T) {
	h := &fakeHandler{}
	env := testEnv(h, &fakeApps{})

	caller := NewRecord(env, pageRequest("com.example.notes", "Main"))
	callerSched, _, callerProxy := newFakeScheduler()
	caller.SetScheduler(callerProxy)

	target := NewRecord(env, pageRequest("com.example.camera", "Capture"))
	target.AddCallerRecord(caller.Token(), 42)
	_, obj, sched := newFakeScheduler()
	target.SetScheduler(sched)
	require.True(t, target.IsReady())

	obj.Kill()
	assert.Equal(t, 1, h.pending(), "death is handed off, not handled inline")
	assert.NotNil(t, target.Scheduler())

	h.drain()
	assert.Nil(t, target.Scheduler())
	assert.False(t, target.IsReady())
	require.Len(t, h.died, 1)
	assert.Same(t, target, h.died[0])

	require.Equal(t, 1, callerSched.resultCount())
	assert.Equal(t, 42, callerSched.results[0].RequestCode)
	assert.Equal(t, -1, callerSched.results[0].ResultCode)
}

func TestReplacedSchedulerDeathIgnored(t *testing.T) {
	h := &fakeHandler{}
	r := NewRecord(testEnv(h, &fakeApps{}), pageRequest("com.example.notes", "Main"))
	_, oldObj, oldSched := newFakeScheduler()
	r.SetScheduler(oldSched)
	_, _, newSched := newFakeScheduler()
	r.SetScheduler(newSched)

	oldObj.Kill()
	h.drain()
	assert.NotNil(t, r.Scheduler())
	assert.Empty(t, h.died)
}

func TestSendResultDeliversOnce(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	r := NewRecord(env, pageRequest("com.example.notes", "Main"))
	fs, _, sched := newFakeScheduler()
	r.SetScheduler(sched)

	want := types.NewWant("com.example.camera", "Capture")
	want.URI = "dataability:///com.example.camera/photo/1"
	want.Flags = types.FlagAuthReadURIPermission
	r.SetResult(&AbilityResult{RequestCode: 1, ResultCode: 0, Want: want})

	r.SendResult()
	r.SendResult()
	assert.Equal(t, 1, fs.resultCount())
	assert.Nil(t, r.Result())

	grants := env.URIs.(*URIGrants)
	assert.True(t, grants.Check(want.URI, "com.example.notes", types.FlagAuthReadURIPermission))
	assert.False(t, grants.Check(want.URI, "com.example.notes", types.FlagAuthWriteURIPermission))
}

func TestSaveResultToCallersLastWriteWins(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	caller := NewRecord(env, pageRequest("com.example.notes", "Main"))
	target := NewRecord(env, pageRequest("com.example.camera", "Capture"))
	target.AddCallerRecord(caller.Token(), 5)

	target.SaveResultToCallers(1, types.NewWant("a", "b"))
	target.SaveResultToCallers(2, nil)

	res := caller.Result()
	require.NotNil(t, res)
	assert.Equal(t, 5, res.RequestCode)
	assert.Equal(t, 2, res.ResultCode)
	assert.NotNil(t, res.Want)
}

func TestAddCallerRecordDedupes(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	a := NewRecord(env, pageRequest("com.example.a", "A"))
	b := NewRecord(env, pageRequest("com.example.b", "B"))
	target := NewRecord(env, pageRequest("com.example.c", "C"))

	target.AddCallerRecord(a.Token(), 1)
	target.AddCallerRecord(b.Token(), 2)
	target.AddCallerRecord(a.Token(), 3)

	callers := target.CallerRecords()
	require.Len(t, callers, 2)
	assert.Equal(t, b.RecordID(), callers[0].CallerID)
	assert.Equal(t, CallerRecord{RequestCode: 3, CallerID: a.RecordID()}, callers[1])

	target.AddCallerRecord(TokenFromID("tok-unknown"), 4)
	assert.Len(t, target.CallerRecords(), 2)
}

func TestNavigationThroughArena(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	a := NewRecord(env, pageRequest("com.example.a", "A"))
	b := NewRecord(env, pageRequest("com.example.b", "B"))
	b.SetPreAbilityRecord(a)
	assert.Same(t, a, b.PreAbilityRecord())

	env.Arena.Remove(a.RecordID())
	assert.Nil(t, b.PreAbilityRecord(), "links are ids and never keep a record alive")
}

func TestDumpUsesKeyValueLines(t *testing.T) {
	r := NewRecord(testEnv(&fakeHandler{}, &fakeApps{}), pageRequest("com.example.notes", "Main"))
	var info []string
	r.Dump(&info)
	assert.Contains(t, info, "        main name [Main]")
	assert.Contains(t, info, "        bundle name [com.example.notes]")
	assert.Contains(t, info, "        ability type [PAGE]")
}
