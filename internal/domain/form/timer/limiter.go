package timer

import (
	"sort"
	"sync"
)

// DefaultLimit is the number of timer refreshes a form gets per day.
const DefaultLimit = 50

type limitInfo struct {
	count    int
	remind   bool
	reported bool
}

// Limiter caps timer driven refreshes per form until the next reset.
type Limiter struct {
	limit int

	mu    sync.Mutex
	items map[int64]*limitInfo
}

// NewLimiter creates a limiter allowing limit refreshes per form.
func NewLimiter(limit int) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{limit: limit, items: make(map[int64]*limitInfo)}
}

// Limit returns the per-form budget.
func (l *Limiter) Limit() int {
	return l.limit
}

// AddItem starts tracking a form.
func (l *Limiter) AddItem(formID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[formID]; !ok {
		l.items[formID] = &limitInfo{}
	}
}

// DeleteItem stops tracking a form.
func (l *Limiter) DeleteItem(formID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, formID)
}

// Increase counts one refresh. It reports true only for the refresh that
// uses up the budget, once per reset.
func (l *Limiter) Increase(formID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.items[formID]
	if !ok {
		info = &limitInfo{}
		l.items[formID] = info
	}
	info.count++
	if info.count >= l.limit && !info.reported {
		info.reported = true
		return true
	}
	return false
}

// IsEnableRefresh reports whether the form still has budget.
func (l *Limiter) IsEnableRefresh(formID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.items[formID]
	return !ok || info.count < l.limit
}

// Count returns the refreshes counted for a form.
func (l *Limiter) Count(formID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.items[formID]; ok {
		return info.count
	}
	return 0
}

// MarkRemind flags an exhausted form for a refresh after the next reset.
func (l *Limiter) MarkRemind(formID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.items[formID]; ok && info.count >= l.limit {
		info.remind = true
	}
}

// ResetAndRemindList clears every budget and returns the forms that
// asked to be reminded.
func (l *Limiter) ResetAndRemindList() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var remind []int64
	for formID, info := range l.items {
		if info.remind {
			remind = append(remind, formID)
		}
		*info = limitInfo{}
	}
	sort.Slice(remind, func(i, j int) bool { return remind[i] < remind[j] })
	return remind
}

// Len returns the number of tracked forms.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
