// Package timer schedules form refreshes.
//
// Three kinds of timers exist per form: a fixed interval, a daily
// update-at time and a one-shot dynamic refresh requested by the
// provider. All of them fire on the form task queue. Interval refreshes
// count against a per-form daily budget kept by a Limiter.
package timer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

// MinNextRefreshGap is the smallest delay accepted by SetNextRefreshTime.
const MinNextRefreshGap = 300 * time.Second

const resetKey = "limiter:reset"

// RefreshFunc asks the provider of formID for fresh data. countTimer is
// set when the refresh should count against the limiter.
type RefreshFunc func(formID int64, userID int32, countTimer bool)

// Timer describes one form's refresh schedule.
type Timer struct {
	FormID      int64
	UserID      int32
	Period      time.Duration
	Hour        int
	Min         int
	IsUpdateAt  bool
	IsEnable    bool
	RefreshTime time.Time
}

type dynamicTimer struct {
	userID  int32
	fireAt  time.Time
	wasLive bool
}

// Mgr owns every form timer.
type Mgr struct {
	tasks   *taskqueue.Queue
	limiter *Limiter
	refresh RefreshFunc
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	intervals map[int64]*Timer
	updateAt  map[int64]*Timer
	dynamic   map[int64]*dynamicTimer
}

// Options configures a Mgr.
type Options struct {
	Tasks   *taskqueue.Queue
	Limit   int
	Refresh RefreshFunc
	Logger  *zap.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// New creates a timer manager. Call Start to arm the daily limiter reset.
func New(opts Options) *Mgr {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Refresh == nil {
		opts.Refresh = func(int64, int32, bool) {}
	}
	return &Mgr{
		tasks:     opts.Tasks,
		limiter:   NewLimiter(opts.Limit),
		refresh:   opts.Refresh,
		logger:    opts.Logger,
		now:       opts.Now,
		intervals: make(map[int64]*Timer),
		updateAt:  make(map[int64]*Timer),
		dynamic:   make(map[int64]*dynamicTimer),
	}
}

// SetRefresh replaces the refresh callback. It exists so the provider
// manager and the timer manager can be built in either order.
func (m *Mgr) SetRefresh(fn RefreshFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = fn
}

// Start arms the limiter reset for the next midnight.
func (m *Mgr) Start() error {
	return m.armReset()
}

// Stop cancels every pending timer.
func (m *Mgr) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.intervals {
		m.tasks.Cancel(intervalKey(id))
	}
	for id := range m.updateAt {
		m.tasks.Cancel(atKey(id))
	}
	for id := range m.dynamic {
		m.tasks.Cancel(dynamicKey(id))
	}
	m.tasks.Cancel(resetKey)
}

func intervalKey(id int64) string { return "interval:" + strconv.FormatInt(id, 10) }
func atKey(id int64) string       { return "at:" + strconv.FormatInt(id, 10) }
func dynamicKey(id int64) string  { return "dynamic:" + strconv.FormatInt(id, 10) }

// AddFormTimer registers an interval timer for formID.
func (m *Mgr) AddFormTimer(formID int64, period time.Duration, userID int32) error {
	if period <= 0 {
		return errcode.Newf(errcode.InvalidParam, "AddFormTimer", "invalid period %s", period)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intervals[formID]; ok {
		m.logger.Debug("form timer already registered", zap.Int64("form_id", formID))
		return nil
	}
	t := &Timer{FormID: formID, UserID: userID, Period: period, IsEnable: true}
	if err := m.armIntervalLocked(t); err != nil {
		return err
	}
	m.intervals[formID] = t
	m.limiter.AddItem(formID)
	return nil
}

// AddFormTimerAt registers a daily refresh at hour:min.
func (m *Mgr) AddFormTimerAt(formID int64, hour, min int, userID int32) error {
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return errcode.Newf(errcode.InvalidParam, "AddFormTimer", "invalid update time %d:%d", hour, min)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.updateAt[formID]; ok {
		return nil
	}
	t := &Timer{FormID: formID, UserID: userID, Hour: hour, Min: min, IsUpdateAt: true, IsEnable: true}
	if err := m.armUpdateAtLocked(t); err != nil {
		return err
	}
	m.updateAt[formID] = t
	return nil
}

// RemoveFormTimer drops every timer of formID.
func (m *Mgr) RemoveFormTimer(formID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(formID)
	m.limiter.DeleteItem(formID)
}

func (m *Mgr) removeLocked(formID int64) {
	if _, ok := m.intervals[formID]; ok {
		m.tasks.Cancel(intervalKey(formID))
		delete(m.intervals, formID)
	}
	if _, ok := m.updateAt[formID]; ok {
		m.tasks.Cancel(atKey(formID))
		delete(m.updateAt, formID)
	}
	if _, ok := m.dynamic[formID]; ok {
		m.tasks.Cancel(dynamicKey(formID))
		delete(m.dynamic, formID)
	}
}

// UpdateFormTimer replaces the schedule of formID. A zero period with a
// negative hour removes the timers.
func (m *Mgr) UpdateFormTimer(formID int64, period time.Duration, hour, min int, userID int32) error {
	m.mu.Lock()
	m.removeLocked(formID)
	m.mu.Unlock()
	switch {
	case period > 0:
		return m.AddFormTimer(formID, period, userID)
	case hour >= 0:
		m.limiter.DeleteItem(formID)
		return m.AddFormTimerAt(formID, hour, min, userID)
	default:
		m.limiter.DeleteItem(formID)
		return nil
	}
}

// SetNextRefreshTime schedules a one-shot refresh after delay. The
// interval timer, if any, is paused until the one-shot fires.
func (m *Mgr) SetNextRefreshTime(formID int64, delay time.Duration, userID int32) error {
	if delay < MinNextRefreshGap {
		return errcode.Newf(errcode.CommonCode, "SetNextRefreshTime", "refresh gap %s below %s", delay, MinNextRefreshGap)
	}
	m.limiter.AddItem(formID)

	m.mu.Lock()
	defer m.mu.Unlock()
	d := &dynamicTimer{userID: userID, fireAt: m.now().Add(delay)}
	if t, ok := m.intervals[formID]; ok && t.IsEnable {
		d.wasLive = true
		t.IsEnable = false
	}
	if prev, ok := m.dynamic[formID]; ok && prev.wasLive {
		d.wasLive = true
	}
	err := m.tasks.PostDelayed(dynamicKey(formID), delay, func() { m.onDynamicTrigger(formID) })
	if err != nil {
		return errcode.Wrap(errcode.CommonCode, "SetNextRefreshTime", err)
	}
	m.dynamic[formID] = d
	return nil
}

func (m *Mgr) onDynamicTrigger(formID int64) {
	m.mu.Lock()
	d, ok := m.dynamic[formID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.dynamic, formID)
	if t, ok := m.intervals[formID]; ok && d.wasLive {
		t.IsEnable = true
	}
	refresh := m.refresh
	m.mu.Unlock()

	if !m.limiter.IsEnableRefresh(formID) {
		m.limiter.MarkRemind(formID)
		m.logger.Info("dynamic refresh over limit", zap.Int64("form_id", formID))
		return
	}
	refresh(formID, d.userID, true)
}

func (m *Mgr) armIntervalLocked(t *Timer) error {
	t.RefreshTime = m.now().Add(t.Period)
	id := t.FormID
	if err := m.tasks.PostDelayed(intervalKey(id), t.Period, func() { m.onIntervalTimeout(id) }); err != nil {
		return errcode.Wrap(errcode.CommonCode, "AddFormTimer", err)
	}
	return nil
}

func (m *Mgr) onIntervalTimeout(formID int64) {
	m.mu.Lock()
	t, ok := m.intervals[formID]
	if !ok {
		m.mu.Unlock()
		return
	}
	enabled, userID := t.IsEnable, t.UserID
	if err := m.armIntervalLocked(t); err != nil {
		m.logger.Warn("rearm interval timer", zap.Int64("form_id", formID), zap.Error(err))
	}
	refresh := m.refresh
	m.mu.Unlock()

	if !enabled {
		return
	}
	if !m.limiter.IsEnableRefresh(formID) {
		m.limiter.MarkRemind(formID)
		m.logger.Info("interval refresh over limit", zap.Int64("form_id", formID))
		return
	}
	refresh(formID, userID, true)
}

// nextDaily returns the next instant at hour:min strictly after now.
func nextDaily(now time.Time, hour, min int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (m *Mgr) armUpdateAtLocked(t *Timer) error {
	now := m.now()
	t.RefreshTime = nextDaily(now, t.Hour, t.Min)
	id := t.FormID
	if err := m.tasks.PostDelayed(atKey(id), t.RefreshTime.Sub(now), func() { m.onUpdateAtTrigger(id) }); err != nil {
		return errcode.Wrap(errcode.CommonCode, "AddFormTimer", err)
	}
	return nil
}

func (m *Mgr) onUpdateAtTrigger(formID int64) {
	m.mu.Lock()
	t, ok := m.updateAt[formID]
	if !ok {
		m.mu.Unlock()
		return
	}
	enabled, userID := t.IsEnable, t.UserID
	if err := m.armUpdateAtLocked(t); err != nil {
		m.logger.Warn("rearm update-at timer", zap.Int64("form_id", formID), zap.Error(err))
	}
	refresh := m.refresh
	m.mu.Unlock()

	if enabled {
		refresh(formID, userID, false)
	}
}

func (m *Mgr) armReset() error {
	now := m.now()
	delay := nextDaily(now, 0, 0).Sub(now)
	if err := m.tasks.PostDelayed(resetKey, delay, m.onResetTrigger); err != nil {
		return errcode.Wrap(errcode.CommonCode, "StartLimiter", err)
	}
	return nil
}

func (m *Mgr) onResetTrigger() {
	m.HandleResetLimiter()
	if err := m.armReset(); err != nil {
		m.logger.Warn("rearm limiter reset", zap.Error(err))
	}
}

// HandleResetLimiter resets every refresh budget and refreshes the forms
// that hit their limit and asked to be reminded.
func (m *Mgr) HandleResetLimiter() {
	remind := m.limiter.ResetAndRemindList()
	m.mu.Lock()
	refresh := m.refresh
	users := make([]int32, len(remind))
	for i, id := range remind {
		if t, ok := m.intervals[id]; ok {
			users[i] = t.UserID
		} else if d, ok := m.dynamic[id]; ok {
			users[i] = d.userID
		}
	}
	m.mu.Unlock()

	for i, id := range remind {
		refresh(id, users[i], false)
	}
	m.logger.Info("form refresh limiter reset", zap.Int("reminded", len(remind)))
}

// IsLimiterEnableRefresh reports whether formID has refresh budget left.
func (m *Mgr) IsLimiterEnableRefresh(formID int64) bool {
	return m.limiter.IsEnableRefresh(formID)
}

// IncreaseRefreshCount counts one timer refresh.
func (m *Mgr) IncreaseRefreshCount(formID int64) {
	if m.limiter.Increase(formID) {
		m.logger.Info("form refresh limit reached",
			zap.Int64("form_id", formID),
			zap.Int("limit", m.limiter.Limit()))
	}
}

// GetRefreshCount returns the timer refreshes counted since the last reset.
func (m *Mgr) GetRefreshCount(formID int64) int {
	return m.limiter.Count(formID)
}

// MarkRemind asks for a refresh of an exhausted form after the next reset.
func (m *Mgr) MarkRemind(formID int64) {
	m.limiter.MarkRemind(formID)
}

// Limit returns the per-form refresh budget.
func (m *Mgr) Limit() int {
	return m.limiter.Limit()
}

// GetTimer returns a copy of formID's schedule.
func (m *Mgr) GetTimer(formID int64) (Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.intervals[formID]; ok {
		return *t, true
	}
	if t, ok := m.updateAt[formID]; ok {
		return *t, true
	}
	return Timer{}, false
}

// HasDynamicRefresh reports whether a one-shot refresh is pending.
func (m *Mgr) HasDynamicRefresh(formID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dynamic[formID]
	return ok
}

// FormIDs returns every form with a timer.
func (m *Mgr) FormIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]struct{}, len(m.intervals)+len(m.updateAt)+len(m.dynamic))
	for id := range m.intervals {
		seen[id] = struct{}{}
	}
	for id := range m.updateAt {
		seen[id] = struct{}{}
	}
	for id := range m.dynamic {
		seen[id] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dump renders formID's timers in key [value] form.
func (m *Mgr) Dump(formID int64) string {
	var b strings.Builder
	t, ok := m.GetTimer(formID)
	if !ok && !m.HasDynamicRefresh(formID) {
		return ""
	}
	fmt.Fprintf(&b, "  FormTimer [%d]\n", formID)
	if ok {
		if t.IsUpdateAt {
			fmt.Fprintf(&b, "    updateAt [%02d:%02d]\n", t.Hour, t.Min)
		} else {
			fmt.Fprintf(&b, "    period [%s]\n", t.Period)
		}
		fmt.Fprintf(&b, "    enable [%t]\n", t.IsEnable)
		fmt.Fprintf(&b, "    nextRefresh [%s]\n", t.RefreshTime.Format(time.RFC3339))
	}
	m.mu.Lock()
	if d, ok := m.dynamic[formID]; ok {
		fmt.Fprintf(&b, "    dynamicRefresh [%s]\n", d.fireAt.Format(time.RFC3339))
	}
	m.mu.Unlock()
	fmt.Fprintf(&b, "    refreshCount [%d/%d]\n", m.limiter.Count(formID), m.limiter.Limit())
	return b.String()
}
