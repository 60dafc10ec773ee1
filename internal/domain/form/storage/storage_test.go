package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

type modules struct {
	calls map[string]bool
}

func (m *modules) SetModuleRemovable(bundleName, moduleName string, removable bool) error {
	if m.calls == nil {
		m.calls = make(map[string]bool)
	}
	m.calls[bundleName+"/"+moduleName] = removable
	return nil
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func dbInfo(formID int64, uids ...int32) form.DBInfo {
	return form.DBInfo{
		FormID:      formID,
		UserID:      0,
		FormName:    "widget",
		BundleName:  "com.example.weather",
		ModuleName:  "entry",
		AbilityName: "WeatherForm",
		UserUIDs:    uids,
	}
}

func TestStoreUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "forms.db"))

	require.NoError(t, store.UpsertForm(ctx, dbInfo(2, 100)))
	require.NoError(t, store.UpsertForm(ctx, dbInfo(1, 100, 200)))
	require.NoError(t, store.UpsertForm(ctx, dbInfo(2, 300)))

	forms, err := store.LoadForms(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, int64(1), forms[0].FormID)
	assert.Equal(t, []int32{100, 200}, forms[0].UserUIDs)
	assert.Equal(t, []int32{300}, forms[1].UserUIDs)

	require.NoError(t, store.DeleteForm(ctx, 2))
	require.NoError(t, store.DeleteForm(ctx, 2))
	_, err = store.GetForm(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "forms.db"))
	require.NoError(t, ApplyMigrations(ctx, store.DB()))
	require.NoError(t, ApplyMigrations(ctx, store.DB()))
}

func TestDBCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "forms.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	cache := NewDBCache(store, nil, nil)
	require.NoError(t, cache.Start(ctx))
	require.NoError(t, cache.SaveFormInfo(ctx, dbInfo(10, 100)))
	require.NoError(t, store.Close())

	reopened := openStore(t, path)
	restarted := NewDBCache(reopened, nil, nil)
	require.NoError(t, restarted.Start(ctx))
	info, err := restarted.GetDBRecord(10)
	require.NoError(t, err)
	assert.Equal(t, []int32{100}, info.UserUIDs)
	assert.True(t, restarted.IsHostOwner(10, 100))
	assert.False(t, restarted.IsHostOwner(10, 200))
}

func TestDBCacheQueries(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "forms.db"))
	cache := NewDBCache(store, nil, nil)
	require.NoError(t, cache.Start(ctx))

	require.NoError(t, cache.SaveFormInfo(ctx, dbInfo(1, 100)))
	require.NoError(t, cache.SaveFormInfo(ctx, dbInfo(2, 100)))
	other := dbInfo(3, 100)
	other.BundleName = "com.example.clock"
	require.NoError(t, cache.SaveFormInfo(ctx, other))

	assert.Equal(t, 2, cache.GetMatchCount("com.example.weather", "entry"))
	assert.Equal(t, 0, cache.GetMatchCount("com.example.weather", "other"))

	_, err := cache.GetDBRecord(99)
	assert.True(t, errcode.Is(err, errcode.NotExist))

	removed := cache.DeleteFormInfoByBundleName(ctx, "com.example.weather")
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, cache.Len())

	forms, err := store.LoadForms(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, int64(3), forms[0].FormID)
}

func TestGetNoHostDBForms(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "forms.db"))
	marker := &modules{}
	cache := NewDBCache(store, marker, nil)
	require.NoError(t, cache.Start(ctx))

	require.NoError(t, cache.SaveFormInfo(ctx, dbInfo(1, 100)))
	require.NoError(t, cache.SaveFormInfo(ctx, dbInfo(2, 100, 200)))
	require.NoError(t, cache.SaveFormInfo(ctx, dbInfo(3, 200)))

	noHost, found := cache.GetNoHostDBForms(ctx, 100)
	assert.Equal(t, map[string][]int64{"com.example.weather::WeatherForm": {1}}, noHost)
	assert.Equal(t, []int64{2}, found)

	info, err := cache.GetDBRecord(2)
	require.NoError(t, err)
	assert.Equal(t, []int32{200}, info.UserUIDs)
	assert.Equal(t, map[string]bool{"com.example.weather/entry": false}, marker.calls)

	stored, err := store.GetForm(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{200}, stored.UserUIDs)
}
