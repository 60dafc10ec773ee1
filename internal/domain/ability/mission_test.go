package ability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissionStackOrder(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	m := NewMissionRecord(env.Arena, "com.example.notes")
	a := NewRecord(env, pageRequest("com.example.notes", "List"))
	b := NewRecord(env, pageRequest("com.example.notes", "Edit"))

	assert.False(t, m.RemoveTopAbilityRecord(), "popping an empty mission fails")

	m.AddAbilityRecordToTop(a)
	m.AddAbilityRecordToTop(b)
	m.AddAbilityRecordToTop(a)
	require.Equal(t, 2, m.AbilityRecordCount(), "a record appears once per mission")
	assert.Same(t, b, m.Top())
	assert.Same(t, a, m.Bottom())
	assert.Same(t, a, m.LastTop())
	assert.Same(t, b, m.ByToken(b.Token()))
	assert.True(t, m.IsTopAbilityRecordByName("Edit"))

	require.True(t, m.RemoveTopAbilityRecord())
	assert.Same(t, a, m.Top())
	assert.True(t, m.RemoveAbilityRecord(a))
	assert.True(t, m.IsEmpty())
}

func TestMissionIDsAreMonotonic(t *testing.T) {
	arena := NewArena()
	first := NewMissionRecord(arena, "a")
	second := NewMissionRecord(arena, "b")
	assert.Greater(t, second.ID(), first.ID())
	assert.Same(t, first, arena.Mission(first.ID()))
}

func TestMissionByCaller(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	m := NewMissionRecord(env.Arena, "com.example.notes")
	caller := NewRecord(env, pageRequest("com.example.notes", "List"))
	target := NewRecord(env, pageRequest("com.example.notes", "Edit"))
	target.AddCallerRecord(caller.Token(), 9)
	m.AddAbilityRecordToTop(caller)
	m.AddAbilityRecordToTop(target)

	assert.Same(t, target, m.ByCaller(caller, 9))
	assert.Nil(t, m.ByCaller(caller, 10))
}

func TestSetAbilityStateTouchesMission(t *testing.T) {
	env := testEnv(&fakeHandler{}, &fakeApps{})
	m := NewMissionRecord(env.Arena, "com.example.notes")
	r := NewRecord(env, pageRequest("com.example.notes", "List"))
	r.SetMissionRecord(m)
	require.True(t, m.ActiveTimestamp().IsZero())

	r.SetAbilityState(Active)
	assert.False(t, m.ActiveTimestamp().IsZero())
	assert.Equal(t, m.ID(), r.MissionRecordID())
}
