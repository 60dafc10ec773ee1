package form

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

type recordingHost struct {
	mu       sync.Mutex
	acquired []JsInfo
	updated  []JsInfo
	removed  [][]int64
	states   []State
}

func (h *recordingHost) OnAcquired(_ context.Context, info JsInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acquired = append(h.acquired, info)
	return nil
}

func (h *recordingHost) OnUpdate(_ context.Context, info JsInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated = append(h.updated, info)
	return nil
}

func (h *recordingHost) OnUninstall(_ context.Context, ids []int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, ids)
	return nil
}

func (h *recordingHost) OnAcquireState(_ context.Context, state State, _ *types.Want) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, state)
	return nil
}

type fakeCache map[int64]bool

func (c fakeCache) IsExist(formID int64) bool { return c[formID] }

func itemInfo(formID int64, temp bool) *ItemInfo {
	info := &ItemInfo{
		FormID:         formID,
		ProviderBundle: "com.example.weather",
		ModuleName:     "entry",
		AbilityName:    "WeatherForm",
		FormName:       "widget",
		HostBundle:     "com.example.launcher",
		Dimension:      1,
		Temp:           temp,
		EnableUpdate:   true,
		UpdateDuration: 2,
	}
	info.AddModuleInfo("entry", "/data/app/weather/entry.hap")
	return info
}

func TestPadPreservesLowBits(t *testing.T) {
	g := NewIDGenerator("device-a")
	require.NotZero(t, g.UDIDHash())
	assert.Zero(t, LowBits(g.UDIDHash()))

	for _, short := range []int64{0, 1, 42, 0xffffffff} {
		padded := g.Pad(short)
		assert.Equal(t, g.UDIDHash(), padded&highMask, "high bits of %d", short)
		assert.Equal(t, short, LowBits(padded))
	}

	long := int64(0x1234) << 32
	assert.Equal(t, long|7, g.Pad(long|7))
}

func TestGeneratedIDsCarryDeviceHash(t *testing.T) {
	g := NewIDGenerator("device-a")
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		formID := g.Next()
		assert.Positive(t, formID)
		assert.False(t, IsShortID(formID))
		assert.Equal(t, g.UDIDHash(), formID&highMask)
		assert.False(t, seen[formID])
		seen[formID] = true
	}
	assert.NotEqual(t, UDIDHash("device-a"), UDIDHash("device-b"))
}

func TestParseUpdateConfig(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		at       string
		enabled  bool
		period   time.Duration
		hour     int
		minute   int
	}{
		{name: "minimum", duration: 1, enabled: true, period: MinPeriod, hour: -1, minute: -1},
		{name: "multiple", duration: 4, enabled: true, period: 2 * time.Hour, hour: -1, minute: -1},
		{name: "maximum", duration: 500, enabled: true, period: MaxPeriod, hour: -1, minute: -1},
		{name: "scheduled", at: "10:30", enabled: true, hour: 10, minute: 30},
		{name: "bad schedule", at: "25:00", hour: -1, minute: -1},
		{name: "no schedule", hour: -1, minute: -1},
	}
	m := NewDataMgr(DataMgrOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := itemInfo(1, false)
			info.UpdateDuration = tt.duration
			info.ScheduledUpdateTime = tt.at
			r := m.CreateFormRecord(info, 100, 0)
			assert.Equal(t, tt.enabled, r.IsEnableUpdate)
			assert.Equal(t, tt.period, r.UpdateDuration)
			assert.Equal(t, tt.hour, r.UpdateAtHour)
			assert.Equal(t, tt.minute, r.UpdateAtMin)
			assert.Equal(t, "/data/app/weather/entry.hap", r.JsFormCodePath)
		})
	}
}

func TestAllotFormRecordReusesRecord(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{})
	first := m.AllotFormRecord(itemInfo(5, false), 100, 0)
	assert.Equal(t, []int32{100}, first.UserUIDs)

	again := m.AllotFormRecord(itemInfo(5, false), 200, 0)
	assert.Equal(t, []int32{100}, again.UserUIDs)
	assert.Equal(t, 1, m.RecordCount())

	require.True(t, m.AddFormUserUID(5, 200))
	r, ok := m.GetFormRecord(5)
	require.True(t, ok)
	assert.Equal(t, []int32{100, 200}, r.UserUIDs)

	r.UserUIDs[0] = 999
	stored, _ := m.GetFormRecord(5)
	assert.Equal(t, int32(100), stored.UserUIDs[0])
}

func TestQuotas(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{Limits: Limits{MaxForms: 3, MaxRecordPerApp: 2, MaxTempForms: 1}})

	m.AllotFormRecord(itemInfo(1, false), 100, 0)
	require.NoError(t, m.CheckEnoughForm(100))
	m.AllotFormRecord(itemInfo(2, false), 100, 0)
	assert.True(t, errcode.Is(m.CheckEnoughForm(100), errcode.MaxFormsPerClient))
	require.NoError(t, m.CheckEnoughForm(200))

	m.AllotFormRecord(itemInfo(3, false), 200, 0)
	assert.True(t, errcode.Is(m.CheckEnoughForm(300), errcode.MaxSystemForms))

	require.NoError(t, m.CheckTempEnoughForm())
	m.AllotFormRecord(itemInfo(4, true), 300, 0)
	assert.True(t, errcode.Is(m.CheckTempEnoughForm(), errcode.MaxSystemTempForms))
	assert.True(t, m.ExistTempForm(4))
	require.True(t, m.DeleteTempForm(4))
	assert.False(t, m.DeleteTempForm(4))
}

func TestFindMatchedFormID(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{IDs: NewIDGenerator("device-a")})
	full := m.GenerateFormID()
	m.AllotFormRecord(itemInfo(full, false), 100, 0)

	assert.Equal(t, full, m.FindMatchedFormID(LowBits(full)))
	assert.Equal(t, full, m.FindMatchedFormID(full))
	assert.Equal(t, int64(12345), m.FindMatchedFormID(12345))
}

func TestFindMatchedFormIDPrefersSmallest(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{})
	const low = int64(0x1234)
	a := int64(7)<<32 | low
	b := int64(3)<<32 | low
	m.AllotFormRecord(itemInfo(a, false), 100, 0)
	m.AllotFormRecord(itemInfo(b, false), 100, 0)

	for range 20 {
		assert.Equal(t, b, m.FindMatchedFormID(low))
	}
}

func TestHostRecordsAndDeath(t *testing.T) {
	var died []ipc.RemoteObject
	m := NewDataMgr(DataMgrOptions{OnHostDied: func(r ipc.RemoteObject) { died = append(died, r) }})
	host := ipc.NewLocalObject("host", NewHostStub(&recordingHost{}))

	m.AllotFormRecord(itemInfo(1, true), 100, 0)
	m.AllotFormRecord(itemInfo(2, false), 100, 0)
	_, err := m.AllotFormHostRecord(itemInfo(1, true), host, 1, 100)
	require.NoError(t, err)
	_, err = m.AllotFormHostRecord(itemInfo(2, false), host, 2, 100)
	require.NoError(t, err)
	assert.Len(t, m.HostRecords(), 1)
	assert.True(t, m.IsEnableRefresh(2))

	host.Kill()
	require.Len(t, died, 1)

	removed := m.HandleHostDied(host)
	require.Len(t, removed, 1)
	assert.Equal(t, int64(1), removed[0].FormID)
	assert.False(t, m.ExistFormRecord(1))
	assert.True(t, m.ExistFormRecord(2))
	assert.False(t, m.ExistTempForm(1))
	assert.Empty(t, m.HostRecords())
}

func TestDeleteHostRecordDropsEmptyHost(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{})
	host := ipc.NewLocalObject("host", NewHostStub(&recordingHost{}))
	_, err := m.AllotFormHostRecord(itemInfo(1, false), host, 1, 100)
	require.NoError(t, err)
	_, err = m.AllotFormHostRecord(itemInfo(2, false), host, 2, 100)
	require.NoError(t, err)

	m.DeleteHostRecord(host, 1)
	require.Len(t, m.HostRecords(), 1)
	m.DeleteHostRecord(host, 2)
	assert.Empty(t, m.HostRecords())

	_, err = m.AllotFormHostRecord(itemInfo(3, false), nil, 3, 100)
	assert.True(t, errcode.Is(err, errcode.InvalidParam))
}

func TestUpdateHostFormFlag(t *testing.T) {
	cache := fakeCache{2: true}
	m := NewDataMgr(DataMgrOptions{Cache: cache})
	client := &recordingHost{}
	host := ipc.NewLocalObject("host", NewHostStub(client))
	for _, formID := range []int64{1, 2, 3} {
		m.AllotFormRecord(itemInfo(formID, false), 100, 0)
		_, err := m.AllotFormHostRecord(itemInfo(formID, false), host, formID, 100)
		require.NoError(t, err)
	}
	m.SetNeedRefresh(1, true)
	m.UpdateHostNeedRefresh(2, true)
	m.UpdateHostNeedRefresh(3, true)

	refresh, err := m.UpdateHostFormFlag([]int64{1, 2, 3, 99, -1}, host, true, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, refresh)

	client.mu.Lock()
	require.Len(t, client.updated, 1)
	assert.Equal(t, int64(2), client.updated[0].FormID)
	client.mu.Unlock()

	_, err = m.UpdateHostFormFlag([]int64{1}, host, false, false)
	require.NoError(t, err)
	assert.False(t, m.IsEnableRefresh(1))
	assert.False(t, m.IsEnableUpdate(1))
	assert.True(t, m.IsEnableUpdate(2))

	other := ipc.NewLocalObject("host", NewHostStub(client))
	_, err = m.UpdateHostFormFlag([]int64{1}, other, true, false)
	assert.True(t, errcode.Is(err, errcode.InvalidParam))
}

func TestNoHostTempForms(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{})
	m.AllotFormRecord(itemInfo(1, true), 100, 0)
	m.AllotFormRecord(itemInfo(2, true), 100, 0)
	m.AddFormUserUID(2, 200)

	noHost := m.NoHostTempForms(100)
	assert.Equal(t, map[string][]int64{"com.example.weather::WeatherForm": {1}}, noHost)
	assert.False(t, m.ExistFormRecord(1))
	r, ok := m.GetFormRecord(2)
	require.True(t, ok)
	assert.Equal(t, []int32{200}, r.UserUIDs)
}

func TestProviderDataMerge(t *testing.T) {
	d, err := NewProviderData(`{"temp":20,"city":"Oslo"}`)
	require.NoError(t, err)
	d.Merge(map[string]any{"temp": 21})
	assert.JSONEq(t, `{"temp":21,"city":"Oslo"}`, d.DataString())

	empty, err := NewProviderData("")
	require.NoError(t, err)
	assert.Equal(t, "", empty.DataString())

	_, err = NewProviderData("{not json")
	assert.Error(t, err)
}

func TestFindFormInfo(t *testing.T) {
	infos := []types.FormInfo{
		{Name: "small", SupportDimensions: []int{1}},
		{Name: "big", DefaultFlag: true, SupportDimensions: []int{2, 3}},
	}
	fi, err := FindFormInfo(infos, "")
	require.NoError(t, err)
	assert.Equal(t, "big", fi.Name)

	fi, err = FindFormInfo(infos, "small")
	require.NoError(t, err)
	assert.True(t, IsDimensionValid(fi, 1))
	assert.False(t, IsDimensionValid(fi, 2))

	_, err = FindFormInfo(infos, "missing")
	assert.True(t, errcode.Is(err, errcode.GetInfoFailed))
}

func TestHostProxyRoundTrip(t *testing.T) {
	client := &recordingHost{}
	remote := ipc.NewLocalObject("host", NewHostStub(client))
	proxy := NewHostProxy(remote)
	ctx := context.Background()

	require.NoError(t, proxy.OnAcquired(ctx, JsInfo{FormID: 9, FormData: `{"a":1}`}))
	require.NoError(t, proxy.OnUninstall(ctx, []int64{9, 10}))
	require.NoError(t, proxy.OnAcquireState(ctx, StateDefault, types.NewWant("b", "a")))

	assert.Equal(t, `{"a":1}`, client.acquired[0].FormData)
	assert.Equal(t, [][]int64{{9, 10}}, client.removed)
	assert.Equal(t, []State{StateDefault}, client.states)
}

func TestAcquireFormStateBack(t *testing.T) {
	m := NewDataMgr(DataMgrOptions{})
	client := &recordingHost{}
	host := ipc.NewLocalObject("host", NewHostStub(client))

	assert.True(t, errcode.Is(m.CreateFormStateRecord("p", nil, 100), errcode.InvalidParam))
	require.NoError(t, m.CreateFormStateRecord("p", host, 100))
	require.NoError(t, m.AcquireFormStateBack(StateReady, "p", types.NewWant("b", "a")))

	client.mu.Lock()
	assert.Equal(t, []State{StateReady}, client.states)
	client.mu.Unlock()

	err := m.AcquireFormStateBack(StateReady, "p", types.NewWant("b", "a"))
	assert.True(t, errcode.Is(err, errcode.NotExist), "answers are delivered once")
}
