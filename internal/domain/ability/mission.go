package ability

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

var missionIDs = id.NewSequence(-1)

// MissionRecord is an ordered stack of records; index 0 is the top.
// Records appear at most once.
type MissionRecord struct {
	id         int
	bundleName string
	arena      *Arena

	records []int64

	createdByLauncher bool
	preMissionID      int
	parentStackID     int
	activeTimestamp   time.Time
}

// NewMissionRecord allocates the next mission id and registers the
// mission with arena.
func NewMissionRecord(arena *Arena, bundleName string) *MissionRecord {
	m := &MissionRecord{
		id:           int(missionIDs.Next()),
		bundleName:   bundleName,
		arena:        arena,
		preMissionID: -1,
	}
	if arena != nil {
		arena.AddMission(m)
	}
	return m
}

func (m *MissionRecord) ID() int                    { return m.id }
func (m *MissionRecord) Name() string               { return m.bundleName }
func (m *MissionRecord) AbilityRecordCount() int    { return len(m.records) }
func (m *MissionRecord) IsEmpty() bool              { return len(m.records) == 0 }
func (m *MissionRecord) IsLauncherCreate() bool     { return m.createdByLauncher }
func (m *MissionRecord) SetIsLauncherCreate()       { m.createdByLauncher = true }
func (m *MissionRecord) ParentStackID() int         { return m.parentStackID }
func (m *MissionRecord) SetParentStackID(stack int) { m.parentStackID = stack }
func (m *MissionRecord) ActiveTimestamp() time.Time { return m.activeTimestamp }
func (m *MissionRecord) UpdateActiveTimestamp()     { m.activeTimestamp = time.Now() }

// SetPreMissionRecord links the mission this one was started from.
func (m *MissionRecord) SetPreMissionRecord(pre *MissionRecord) {
	if pre == nil {
		m.preMissionID = -1
		return
	}
	m.preMissionID = pre.id
}

// PreMissionRecord resolves the mission this one was started from.
func (m *MissionRecord) PreMissionRecord() *MissionRecord {
	if m.preMissionID < 0 || m.arena == nil {
		return nil
	}
	return m.arena.Mission(m.preMissionID)
}

func (m *MissionRecord) resolve(recordID int64) *Record {
	if m.arena == nil {
		return nil
	}
	return m.arena.Get(recordID)
}

// Top is the front record.
func (m *MissionRecord) Top() *Record {
	if len(m.records) == 0 {
		return nil
	}
	return m.resolve(m.records[0])
}

// Bottom is the back record.
func (m *MissionRecord) Bottom() *Record {
	if len(m.records) == 0 {
		return nil
	}
	return m.resolve(m.records[len(m.records)-1])
}

// LastTop is the record under the top.
func (m *MissionRecord) LastTop() *Record {
	if len(m.records) < 2 {
		return nil
	}
	return m.resolve(m.records[1])
}

// ByToken finds a record of this mission by token.
func (m *MissionRecord) ByToken(t *Token) *Record {
	if t == nil || m.arena == nil {
		return nil
	}
	r := m.arena.GetByToken(t)
	if r == nil {
		return nil
	}
	return m.ByID(r.recordID)
}

// ByID finds a record of this mission by id.
func (m *MissionRecord) ByID(recordID int64) *Record {
	for _, rid := range m.records {
		if rid == recordID {
			return m.resolve(rid)
		}
	}
	return nil
}

// ByCaller finds the record started by caller with requestCode.
func (m *MissionRecord) ByCaller(caller *Record, requestCode int) *Record {
	if caller == nil {
		return nil
	}
	for _, rid := range m.records {
		r := m.resolve(rid)
		if r == nil {
			continue
		}
		for _, c := range r.callers {
			if c.CallerID == caller.recordID && c.RequestCode == requestCode {
				return r
			}
		}
	}
	return nil
}

// AddAbilityRecordToTop pushes r unless it is already in the mission.
func (m *MissionRecord) AddAbilityRecordToTop(r *Record) {
	if r == nil || m.IsExistAbilityRecord(r.recordID) {
		return
	}
	m.records = append([]int64{r.recordID}, m.records...)
}

// RemoveAbilityRecord drops r.
func (m *MissionRecord) RemoveAbilityRecord(r *Record) bool {
	if r == nil {
		return false
	}
	for i, rid := range m.records {
		if rid == r.recordID {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveTopAbilityRecord pops the top; false on an empty mission.
func (m *MissionRecord) RemoveTopAbilityRecord() bool {
	if len(m.records) == 0 {
		return false
	}
	m.records = m.records[1:]
	return true
}

// RemoveAll empties the mission.
func (m *MissionRecord) RemoveAll() { m.records = nil }

// IsExistAbilityRecord reports membership.
func (m *MissionRecord) IsExistAbilityRecord(recordID int64) bool {
	for _, rid := range m.records {
		if rid == recordID {
			return true
		}
	}
	return false
}

// IsSameMissionRecord compares by bundle name.
func (m *MissionRecord) IsSameMissionRecord(bundleName string) bool {
	return bundleName != "" && m.bundleName == bundleName
}

// IsTopAbilityRecordByName reports whether the top ability is named abilityName.
func (m *MissionRecord) IsTopAbilityRecordByName(abilityName string) bool {
	top := m.Top()
	return top != nil && top.abilityInfo.Name == abilityName
}

// Dump appends the mission and each of its records.
func (m *MissionRecord) Dump(info *[]string) {
	*info = append(*info, fmt.Sprintf("    MissionRecord ID #%d  bundle name [%s]", m.id, m.bundleName))
	for _, rid := range m.records {
		if r := m.resolve(rid); r != nil {
			r.Dump(info)
		}
	}
}
