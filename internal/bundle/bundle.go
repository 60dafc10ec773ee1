// Package bundle serves installed-bundle metadata to the ability and form
// services from a catalog file (YAML or TOML).
package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// UIDRange is the number of uids reserved per user.
const UIDRange = 200000

var (
	ErrBundleNotFound  = errors.New("bundle not found")
	ErrModuleNotFound  = errors.New("module not found")
	ErrAbilityNotFound = errors.New("ability not found")
	ErrUnknownFormat   = errors.New("unknown catalog format")
)

// Manager is the bundle-manager contract consumed by the framework.
type Manager interface {
	GetBundleInfo(bundleName string, userID int32) (*types.BundleInfo, error)
	GetUIDByBundleName(bundleName string, userID int32) (int32, error)
	GetBundleNameForUID(uid int32) (string, error)
	CheckIsSystemAppByUID(uid int32) bool
	GetFormsInfoByModule(bundleName, moduleName string) ([]types.FormInfo, error)
	GetFormsInfoByApp(bundleName string) ([]types.FormInfo, error)
	GetAbilityInfo(element types.ElementName) (*types.AbilityInfo, *types.ApplicationInfo, error)
	QueryAbilityByURI(uri string) (*types.AbilityInfo, error)
	IsModuleRemovable(bundleName, moduleName string) (bool, error)
	SetModuleRemovable(bundleName, moduleName string, removable bool) error
}

// catalogFile is the on-disk layout.
type catalogFile struct {
	Bundles []types.BundleInfo `yaml:"bundles" toml:"bundles"`
}

// Catalog is an in-memory Manager.
type Catalog struct {
	mu      sync.RWMutex
	bundles map[string]*types.BundleInfo
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{bundles: make(map[string]*types.BundleInfo)}
}

// LoadCatalog reads a catalog file; the format follows the extension.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseCatalog decodes a catalog in "yaml", "yml" or "toml" format.
func ParseCatalog(data []byte, format string) (*Catalog, error) {
	var file catalogFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse TOML catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	c := NewCatalog()
	for i := range file.Bundles {
		c.Add(file.Bundles[i])
	}
	return c, nil
}

// Add installs or replaces a bundle, filling in names the file may omit.
func (c *Catalog) Add(info types.BundleInfo) {
	b := normalize(info)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundles[b.Name] = b
}

// Remove uninstalls a bundle.
func (c *Catalog) Remove(bundleName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bundles, bundleName)
}

// BundleNames lists installed bundles in name order.
func (c *Catalog) BundleNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.bundles))
	for name := range c.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(info types.BundleInfo) *types.BundleInfo {
	b := info
	if b.Application.BundleName == "" {
		b.Application.BundleName = b.Name
	}
	if b.Application.Name == "" {
		b.Application.Name = b.Name
	}
	if b.Application.UID == 0 {
		b.Application.UID = b.UID
	}
	if b.UID == 0 {
		b.UID = b.Application.UID
	}
	b.Abilities = append([]types.AbilityInfo(nil), info.Abilities...)
	for i := range b.Abilities {
		a := &b.Abilities[i]
		if a.BundleName == "" {
			a.BundleName = b.Name
		}
		if a.ApplicationName == "" {
			a.ApplicationName = b.Application.Name
		}
		if a.Type == types.AbilityTypeUnknown {
			a.Type = types.ParseAbilityType(a.TypeName)
		}
		if a.TypeName == "" {
			a.TypeName = a.Type.String()
		}
	}
	b.Modules = append([]types.HapModuleInfo(nil), info.Modules...)
	b.Forms = append([]types.FormInfo(nil), info.Forms...)
	for i := range b.Forms {
		if b.Forms[i].BundleName == "" {
			b.Forms[i].BundleName = b.Name
		}
	}
	return &b
}

func clone(b *types.BundleInfo) *types.BundleInfo {
	out := *b
	out.Abilities = append([]types.AbilityInfo(nil), b.Abilities...)
	out.Modules = append([]types.HapModuleInfo(nil), b.Modules...)
	out.Forms = append([]types.FormInfo(nil), b.Forms...)
	return &out
}

func (c *Catalog) lookup(bundleName string) (*types.BundleInfo, error) {
	b, ok := c.bundles[bundleName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundleName)
	}
	return b, nil
}

// GetBundleInfo returns a copy of the bundle with uids mapped into userID.
func (c *Catalog) GetBundleInfo(bundleName string, userID int32) (*types.BundleInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.lookup(bundleName)
	if err != nil {
		return nil, err
	}
	out := clone(b)
	out.UID = int(userUID(int32(b.UID), userID))
	out.Application.UID = out.UID
	return out, nil
}

// GetUIDByBundleName returns the bundle's uid under userID.
func (c *Catalog) GetUIDByBundleName(bundleName string, userID int32) (int32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.lookup(bundleName)
	if err != nil {
		return -1, err
	}
	return userUID(int32(b.UID), userID), nil
}

// GetBundleNameForUID finds the bundle whose app id matches uid in any user.
func (c *Catalog) GetBundleNameForUID(uid int32) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range sortedKeys(c.bundles) {
		if int32(c.bundles[name].UID)%UIDRange == uid%UIDRange {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: uid %d", ErrBundleNotFound, uid)
}

// CheckIsSystemAppByUID reports whether uid belongs to a system app.
func (c *Catalog) CheckIsSystemAppByUID(uid int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range sortedKeys(c.bundles) {
		if b := c.bundles[name]; int32(b.UID)%UIDRange == uid%UIDRange {
			return b.Application.IsSystemApp
		}
	}
	return false
}

// GetFormsInfoByModule returns the forms a module declares.
func (c *Catalog) GetFormsInfoByModule(bundleName, moduleName string) ([]types.FormInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.lookup(bundleName)
	if err != nil {
		return nil, err
	}
	var out []types.FormInfo
	for _, f := range b.Forms {
		if f.ModuleName == moduleName {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetFormsInfoByApp returns every form a bundle declares.
func (c *Catalog) GetFormsInfoByApp(bundleName string) ([]types.FormInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.lookup(bundleName)
	if err != nil {
		return nil, err
	}
	return append([]types.FormInfo(nil), b.Forms...), nil
}

// GetAbilityInfo resolves an element to its ability and application.
func (c *Catalog) GetAbilityInfo(element types.ElementName) (*types.AbilityInfo, *types.ApplicationInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.lookup(element.BundleName)
	if err != nil {
		return nil, nil, err
	}
	a, ok := b.Ability(element.AbilityName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrAbilityNotFound, element.Key())
	}
	app := b.Application
	return &a, &app, nil
}

// QueryAbilityByURI finds the data ability serving uri. A uri matches an
// ability whose declared uri equals it or is a path prefix of it.
func (c *Catalog) QueryAbilityByURI(uri string) (*types.AbilityInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range sortedKeys(c.bundles) {
		for _, a := range c.bundles[name].Abilities {
			if a.URI == "" {
				continue
			}
			if uri == a.URI || strings.HasPrefix(uri, strings.TrimSuffix(a.URI, "/")+"/") {
				out := a
				return &out, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: uri %s", ErrAbilityNotFound, uri)
}

// IsModuleRemovable reports the removable flag of a module.
func (c *Catalog) IsModuleRemovable(bundleName, moduleName string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.lookup(bundleName)
	if err != nil {
		return false, err
	}
	m, ok := b.Module(moduleName)
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrModuleNotFound, bundleName, moduleName)
	}
	return m.Removable, nil
}

// SetModuleRemovable records whether a module may be uninstalled.
func (c *Catalog) SetModuleRemovable(bundleName, moduleName string, removable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.lookup(bundleName)
	if err != nil {
		return err
	}
	for i := range b.Modules {
		if b.Modules[i].ModuleName == moduleName {
			b.Modules[i].Removable = removable
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrModuleNotFound, bundleName, moduleName)
}

func userUID(uid, userID int32) int32 {
	if userID <= 0 {
		return uid
	}
	return userID*UIDRange + uid%UIDRange
}

func sortedKeys(m map[string]*types.BundleInfo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
