package dataability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// abilityThread answers lifecycle transactions for one token.
type abilityThread struct {
	mgr   *ability.Manager
	token *ability.Token
}

func (a *abilityThread) ScheduleAbilityTransaction(_ context.Context, _ *types.Want, info ability.LifeCycleStateInfo) error {
	go func() { _ = a.mgr.AbilityTransitionDone(a.token, info.State, nil) }()
	return nil
}

func (a *abilityThread) SendResult(context.Context, int, int, *types.Want) error   { return nil }
func (a *abilityThread) ScheduleConnectAbility(context.Context, *types.Want) error { return nil }
func (a *abilityThread) ScheduleDisconnectAbility(context.Context, *types.Want) error {
	return nil
}
func (a *abilityThread) ScheduleCommandAbility(context.Context, *types.Want, bool, int) error {
	return nil
}
func (a *abilityThread) ScheduleSaveAbilityState(context.Context) error { return nil }
func (a *abilityThread) ScheduleRestoreAbilityState(context.Context, map[string]any) error {
	return nil
}
func (a *abilityThread) ContinueAbility(context.Context, string) error             { return nil }
func (a *abilityThread) NotifyContinuationResult(context.Context, int32) error     { return nil }
func (a *abilityThread) NotifyTopActiveAbilityChanged(context.Context, bool) error { return nil }
func (a *abilityThread) CallRequest(context.Context) error                         { return nil }

// fakeApps attaches a fresh ability thread on every load unless stalled.
type fakeApps struct {
	mgr   *ability.Manager
	stall bool

	mu          sync.Mutex
	loads       int
	foregrounds int
	backgrounds int
	kills       []*ability.Token
	objects     []*ipc.LocalObject
}

func (f *fakeApps) LoadAbility(token, _ *ability.Token, _ types.AbilityInfo, _ types.ApplicationInfo) error {
	f.mu.Lock()
	f.loads++
	stall := f.stall
	f.mu.Unlock()
	if stall {
		return nil
	}
	obj := ipc.NewLocalObject("data", ability.NewSchedulerStub(&abilityThread{mgr: f.mgr, token: token}))
	f.mu.Lock()
	f.objects = append(f.objects, obj)
	f.mu.Unlock()
	go func() { _ = f.mgr.AttachAbilityThread(ability.NewSchedulerProxy(obj), token) }()
	return nil
}

func (f *fakeApps) TerminateAbility(*ability.Token) error { return nil }

func (f *fakeApps) MoveToForeground(*ability.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foregrounds++
}

func (f *fakeApps) MoveToBackground(*ability.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backgrounds++
}

func (f *fakeApps) AbilityBehaviorAnalysis(_, _ *ability.Token, _, _, _ int) {}

func (f *fakeApps) KillProcessByAbilityToken(t *ability.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, t)
}

func (f *fakeApps) snapshot() (loads, foregrounds, backgrounds, kills int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.foregrounds, f.backgrounds, len(f.kills)
}

func testCatalog() *bundle.Catalog {
	c := bundle.NewCatalog()
	c.Add(types.BundleInfo{
		Name: "com.example.contacts",
		UID:  20010001,
		Application: types.ApplicationInfo{
			Name:       "com.example.contacts",
			BundleName: "com.example.contacts",
			UID:        20010001,
		},
		Abilities: []types.AbilityInfo{{
			Name:       "ContactsData",
			BundleName: "com.example.contacts",
			ModuleName: "entry",
			Type:       types.AbilityTypeData,
			URI:        "dataability://com.example.contacts.ContactsData",
		}},
		Modules: []types.HapModuleInfo{{ModuleName: "entry"}},
	})
	return c
}

type fixture struct {
	abilities *ability.Manager
	apps      *fakeApps
	data      *Manager
}

func newFixture(t *testing.T, timeout time.Duration, stall bool) *fixture {
	t.Helper()
	apps := &fakeApps{stall: stall}
	abilities := ability.NewManager(ability.Options{Apps: apps})
	t.Cleanup(abilities.Close)
	apps.mgr = abilities
	data := NewManager(Options{
		Abilities:            abilities,
		Apps:                 apps,
		Bundles:              testCatalog(),
		LoadTimeout:          timeout,
		MonitorSystemClients: true,
	})
	abilities.AddObserver(data)
	return &fixture{abilities: abilities, apps: apps, data: data}
}

func client(prefix string) *ipc.LocalObject {
	return ipc.NewLocalObject(prefix, ipc.HandlerFunc(
		func(context.Context, uint32, *ipc.Parcel) (*ipc.Parcel, error) { return nil, nil }))
}

const contactsURI = "dataability://com.example.contacts.ContactsData"
const contactsKey = "com.example.contacts.ContactsData"

func TestAcquireLoadsOnceAndSharesScheduler(t *testing.T) {
	f := newFixture(t, 2*time.Second, false)
	c := client("sys")

	first, err := f.data.AcquireByURI(contactsURI, false, c, true)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.data.AcquireByURI(contactsURI, false, c, true)
	require.NoError(t, err)
	assert.Equal(t, first.Object().ID(), second.Object().ID())

	loads, foregrounds, _, _ := f.apps.snapshot()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, foregrounds)
	assert.Equal(t, 2, f.data.ClientCount(contactsKey))
	assert.True(t, f.data.ContainsDataAbility(first))
}

func TestConcurrentAcquireWaitsForSingleLoad(t *testing.T) {
	f := newFixture(t, 2*time.Second, false)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.data.AcquireByURI(contactsURI, false, client("sys"), true)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	loads, _, _, _ := f.apps.snapshot()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 4, f.data.ClientCount(contactsKey))
}

func TestAcquireTimesOut(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, true)

	start := time.Now()
	_, err := f.data.AcquireByURI(contactsURI, false, client("sys"), true)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.TimedOut))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, f.data.IsLoaded(contactsKey))
}

func TestAcquireRejectsNonDataAbility(t *testing.T) {
	f := newFixture(t, time.Second, false)
	req := &ability.Request{
		Want:        types.NewWant("com.example.contacts", "Main"),
		AbilityInfo: types.AbilityInfo{Name: "Main", BundleName: "com.example.contacts", Type: types.AbilityTypePage},
	}
	_, err := f.data.Acquire(req, false, client("sys"), true)
	assert.True(t, errcode.Is(err, errcode.InvalidParam))

	_, err = f.data.AcquireByURI("dataability://nowhere", false, client("sys"), true)
	assert.True(t, errcode.Is(err, errcode.NotExist))
}

func TestReleaseMatchesMultiplicity(t *testing.T) {
	f := newFixture(t, 2*time.Second, false)
	c := client("sys")

	sched, err := f.data.AcquireByURI(contactsURI, false, c, true)
	require.NoError(t, err)
	_, err = f.data.AcquireByURI(contactsURI, false, c, true)
	require.NoError(t, err)

	require.NoError(t, f.data.Release(sched, c, true))
	_, _, backgrounds, _ := f.apps.snapshot()
	assert.Equal(t, 0, backgrounds)
	assert.Equal(t, 1, f.data.ClientCount(contactsKey))

	require.NoError(t, f.data.Release(sched, c, true))
	_, _, backgrounds, _ = f.apps.snapshot()
	assert.Equal(t, 1, backgrounds)

	err = f.data.Release(sched, c, true)
	assert.True(t, errcode.Is(err, errcode.NotExist))
}

func TestSystemClientDeathDropsAllEntries(t *testing.T) {
	f := newFixture(t, 2*time.Second, false)
	c := client("sys")
	other := client("sys")

	for i := 0; i < 3; i++ {
		_, err := f.data.AcquireByURI(contactsURI, false, c, true)
		require.NoError(t, err)
	}
	_, err := f.data.AcquireByURI(contactsURI, false, other, true)
	require.NoError(t, err)

	c.Kill()
	assert.Equal(t, 1, f.data.ClientCount(contactsKey))
	_, _, backgrounds, _ := f.apps.snapshot()
	assert.Equal(t, 0, backgrounds)
}

func TestDataAbilityDeathKillsTryBindClients(t *testing.T) {
	f := newFixture(t, 2*time.Second, false)

	pageToken, err := f.abilities.StartAbility(&ability.Request{
		Want:        types.NewWant("com.example.dialer", "Main"),
		AbilityInfo: types.AbilityInfo{Name: "Main", BundleName: "com.example.dialer", Type: types.AbilityTypePage},
		AppInfo:     types.ApplicationInfo{Name: "com.example.dialer", BundleName: "com.example.dialer"},
	})
	require.NoError(t, err)
	pageClient := ipc.NewLocalObjectWithID(pageToken.ID(), ipc.HandlerFunc(
		func(context.Context, uint32, *ipc.Parcel) (*ipc.Parcel, error) { return nil, nil }))

	_, err = f.data.AcquireByURI(contactsURI, true, pageClient, false)
	require.NoError(t, err)
	require.True(t, f.data.IsLoaded(contactsKey))

	f.apps.mu.Lock()
	dataObj := f.apps.objects[len(f.apps.objects)-1]
	f.apps.mu.Unlock()
	dataObj.Kill()
	require.NoError(t, f.abilities.Sync())

	assert.Eventually(t, func() bool { return !f.data.IsLoaded(contactsKey) }, time.Second, 5*time.Millisecond)
	_, _, _, kills := f.apps.snapshot()
	assert.Equal(t, 1, kills)
}

func TestDumpState(t *testing.T) {
	f := newFixture(t, 2*time.Second, false)
	_, err := f.data.AcquireByURI(contactsURI, false, client("sys"), true)
	require.NoError(t, err)

	info := f.data.DumpState()
	require.NotEmpty(t, info)
	assert.Equal(t, "  DataAbilityRecords:", info[0])
	assert.Contains(t, info, "    DataAbilityRecord [com.example.contacts.ContactsData]")
	assert.Contains(t, info, "      clients [1]")
}
