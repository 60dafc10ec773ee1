package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

type refreshCall struct {
	formID     int64
	userID     int32
	countTimer bool
}

type recorder struct {
	mu    sync.Mutex
	calls []refreshCall
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) refresh(formID int64, userID int32, countTimer bool) {
	r.mu.Lock()
	r.calls = append(r.calls, refreshCall{formID, userID, countTimer})
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshot() []refreshCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]refreshCall(nil), r.calls...)
}

func newMgr(t *testing.T, limit int) (*Mgr, *recorder) {
	t.Helper()
	q := taskqueue.New("form-timer-test", nil)
	t.Cleanup(q.Close)
	rec := newRecorder()
	return New(Options{Tasks: q, Limit: limit, Refresh: rec.refresh}), rec
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(2)
	assert.True(t, l.IsEnableRefresh(7), "untracked forms are unlimited")

	l.AddItem(7)
	assert.False(t, l.Increase(7))
	assert.True(t, l.IsEnableRefresh(7))
	l.MarkRemind(7)
	assert.True(t, l.Increase(7), "the refresh that exhausts the budget is reported")
	assert.False(t, l.IsEnableRefresh(7))
	assert.False(t, l.Increase(7), "exhaustion is reported once per reset")
	assert.Equal(t, 3, l.Count(7))

	l.MarkRemind(7)
	assert.Equal(t, []int64{7}, l.ResetAndRemindList())
	assert.Equal(t, 0, l.Count(7))
	assert.True(t, l.IsEnableRefresh(7))
	assert.Empty(t, l.ResetAndRemindList())

	l.Increase(7)
	assert.True(t, l.Increase(7), "a reset rearms the report")
}

func TestIntervalTimerFires(t *testing.T) {
	m, rec := newMgr(t, 50)
	require.NoError(t, m.AddFormTimer(1, 20*time.Millisecond, 100))

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("interval timer never fired")
	}
	calls := rec.snapshot()
	require.NotEmpty(t, calls)
	assert.Equal(t, refreshCall{1, 100, true}, calls[0])

	m.RemoveFormTimer(1)
	_, ok := m.GetTimer(1)
	assert.False(t, ok)
}

func TestIntervalTimerRespectsLimit(t *testing.T) {
	m, rec := newMgr(t, 1)
	require.NoError(t, m.AddFormTimer(1, time.Hour, 100))
	m.IncreaseRefreshCount(1)
	assert.False(t, m.IsLimiterEnableRefresh(1))

	m.onIntervalTimeout(1)
	assert.Empty(t, rec.snapshot())

	m.HandleResetLimiter()
	calls := rec.snapshot()
	require.Len(t, calls, 1, "an exhausted form is reminded after reset")
	assert.Equal(t, refreshCall{1, 100, false}, calls[0])
	assert.Equal(t, 0, m.GetRefreshCount(1))
}

func TestAddFormTimerValidation(t *testing.T) {
	m, _ := newMgr(t, 50)
	assert.True(t, errcode.Is(m.AddFormTimer(1, 0, 100), errcode.InvalidParam))
	assert.True(t, errcode.Is(m.AddFormTimerAt(1, 24, 0, 100), errcode.InvalidParam))
	assert.True(t, errcode.Is(m.AddFormTimerAt(1, 3, 60, 100), errcode.InvalidParam))
	require.NoError(t, m.AddFormTimerAt(1, 3, 30, 100))

	timer, ok := m.GetTimer(1)
	require.True(t, ok)
	assert.True(t, timer.IsUpdateAt)
	assert.Equal(t, 3, timer.Hour)
	assert.Equal(t, 30, timer.RefreshTime.Minute())
}

func TestSetNextRefreshTimePausesInterval(t *testing.T) {
	m, rec := newMgr(t, 50)
	require.NoError(t, m.AddFormTimer(1, time.Hour, 100))

	err := m.SetNextRefreshTime(1, time.Minute, 100)
	assert.True(t, errcode.Is(err, errcode.CommonCode))

	require.NoError(t, m.SetNextRefreshTime(1, MinNextRefreshGap, 100))
	assert.True(t, m.HasDynamicRefresh(1))
	timer, _ := m.GetTimer(1)
	assert.False(t, timer.IsEnable)

	m.onIntervalTimeout(1)
	assert.Empty(t, rec.snapshot(), "a paused interval does not refresh")

	m.onDynamicTrigger(1)
	assert.False(t, m.HasDynamicRefresh(1))
	timer, _ = m.GetTimer(1)
	assert.True(t, timer.IsEnable)
	assert.Equal(t, []refreshCall{{1, 100, true}}, rec.snapshot())
}

func TestUpdateFormTimer(t *testing.T) {
	m, _ := newMgr(t, 50)
	require.NoError(t, m.AddFormTimer(1, time.Hour, 100))
	require.NoError(t, m.UpdateFormTimer(1, 0, 8, 15, 100))

	timer, ok := m.GetTimer(1)
	require.True(t, ok)
	assert.True(t, timer.IsUpdateAt)

	require.NoError(t, m.UpdateFormTimer(1, 0, -1, 0, 100))
	assert.Empty(t, m.FormIDs())
}

func TestNextDaily(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), nextDaily(now, 11, 0))
	assert.Equal(t, time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC), nextDaily(now, 10, 30))
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), nextDaily(now, 0, 0))
}

func TestDump(t *testing.T) {
	m, _ := newMgr(t, 50)
	assert.Empty(t, m.Dump(1))
	require.NoError(t, m.AddFormTimer(1, time.Hour, 100))
	out := m.Dump(1)
	assert.Contains(t, out, "FormTimer [1]")
	assert.Contains(t, out, "period [1h0m0s]")
	assert.Contains(t, out, "refreshCount [0/50]")
}
