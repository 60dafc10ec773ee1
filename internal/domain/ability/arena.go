package ability

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

// Arena owns every live record and mission. Everything else refers to
// them by id and resolves through here.
type Arena struct {
	mu       sync.RWMutex
	records  map[int64]*Record
	byToken  map[id.ObjectID]int64
	missions map[int]*MissionRecord
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		records:  make(map[int64]*Record),
		byToken:  make(map[id.ObjectID]int64),
		missions: make(map[int]*MissionRecord),
	}
}

// Add registers r.
func (a *Arena) Add(r *Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[r.recordID] = r
	a.byToken[r.token.ID()] = r.recordID
}

// Get resolves a record id.
func (a *Arena) Get(recordID int64) *Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.records[recordID]
}

// GetByToken resolves a token, which may have crossed the transport and
// so is matched by identity rather than pointer.
func (a *Arena) GetByToken(t *Token) *Record {
	if t == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	recordID, ok := a.byToken[t.ID()]
	if !ok {
		return nil
	}
	return a.records[recordID]
}

// Remove forgets a record.
func (a *Arena) Remove(recordID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[recordID]; ok {
		delete(a.byToken, r.token.ID())
		delete(a.records, recordID)
	}
}

// Records returns every record ordered by id.
func (a *Arena) Records() []*Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Record, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].recordID < out[j].recordID })
	return out
}

// Len is the number of live records.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// AddMission registers m.
func (a *Arena) AddMission(m *MissionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.missions[m.ID()] = m
}

// Mission resolves a mission id.
func (a *Arena) Mission(missionID int) *MissionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.missions[missionID]
}

// RemoveMission forgets a mission.
func (a *Arena) RemoveMission(missionID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.missions, missionID)
}

// Missions returns every mission ordered by id.
func (a *Arena) Missions() []*MissionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*MissionRecord, 0, len(a.missions))
	for _, m := range a.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
