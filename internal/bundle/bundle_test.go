package bundle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

func loadYAML(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	return c
}

func TestLoadCatalogYAML(t *testing.T) {
	c := loadYAML(t)
	assert.Equal(t, []string{"com.example.contacts", "com.example.weather"}, c.BundleNames())

	info, err := c.GetBundleInfo("com.example.weather", 0)
	require.NoError(t, err)
	assert.Equal(t, 20010, info.UID)
	assert.Equal(t, "com.example.weather", info.Application.BundleName)
	assert.Equal(t, 20010, info.Application.UID)

	main, ok := info.Ability("MainAbility")
	require.True(t, ok)
	assert.Equal(t, types.AbilityTypePage, main.Type)
	assert.Equal(t, "com.example.weather", main.BundleName)
}

func TestLoadCatalogTOML(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("testdata", "catalog.toml"))
	require.NoError(t, err)

	ability, app, err := c.GetAbilityInfo(types.ElementName{BundleName: "com.example.launcher", AbilityName: "LauncherAbility"})
	require.NoError(t, err)
	assert.True(t, ability.IsLauncher)
	assert.Equal(t, types.AbilityTypePage, ability.Type)
	assert.True(t, app.IsLauncherApp)
	assert.True(t, app.KeepAlive)
}

func TestParseCatalogUnknownFormat(t *testing.T) {
	_, err := ParseCatalog([]byte("{}"), "json")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestUIDMapping(t *testing.T) {
	c := loadYAML(t)

	uid, err := c.GetUIDByBundleName("com.example.weather", 100)
	require.NoError(t, err)
	assert.Equal(t, int32(100*UIDRange+20010), uid)

	name, err := c.GetBundleNameForUID(uid)
	require.NoError(t, err)
	assert.Equal(t, "com.example.weather", name)

	assert.True(t, c.CheckIsSystemAppByUID(uid))
	assert.False(t, c.CheckIsSystemAppByUID(20020))
	assert.False(t, c.CheckIsSystemAppByUID(99999))

	_, err = c.GetUIDByBundleName("missing", 0)
	assert.ErrorIs(t, err, ErrBundleNotFound)
}

func TestFormsInfo(t *testing.T) {
	c := loadYAML(t)

	forms, err := c.GetFormsInfoByModule("com.example.weather", "entry")
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, "widget", forms[0].Name)
	assert.Equal(t, "com.example.weather", forms[0].BundleName)
	assert.Equal(t, []int{1, 2}, forms[0].SupportDimensions)

	none, err := c.GetFormsInfoByModule("com.example.weather", "other")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := c.GetFormsInfoByApp("com.example.weather")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQueryAbilityByURI(t *testing.T) {
	c := loadYAML(t)

	a, err := c.QueryAbilityByURI("dataability:///com.example.contacts.ContactsData/person/1")
	require.NoError(t, err)
	assert.Equal(t, "ContactsData", a.Name)
	assert.Equal(t, types.AbilityTypeData, a.Type)

	_, err = c.QueryAbilityByURI("dataability:///com.example.contacts.ContactsDataX")
	assert.ErrorIs(t, err, ErrAbilityNotFound)
}

func TestModuleRemovable(t *testing.T) {
	c := loadYAML(t)

	removable, err := c.IsModuleRemovable("com.example.weather", "entry")
	require.NoError(t, err)
	assert.True(t, removable)

	require.NoError(t, c.SetModuleRemovable("com.example.weather", "entry", false))
	removable, err = c.IsModuleRemovable("com.example.weather", "entry")
	require.NoError(t, err)
	assert.False(t, removable)

	assert.ErrorIs(t, c.SetModuleRemovable("com.example.weather", "nope", true), ErrModuleNotFound)
}

func TestGetBundleInfoReturnsCopy(t *testing.T) {
	c := loadYAML(t)

	info, err := c.GetBundleInfo("com.example.weather", 0)
	require.NoError(t, err)
	info.Modules[0].Removable = false

	removable, err := c.IsModuleRemovable("com.example.weather", "entry")
	require.NoError(t, err)
	assert.True(t, removable)
}
