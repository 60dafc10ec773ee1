package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

// Backend persists form rows.
type Backend interface {
	LoadForms(ctx context.Context) ([]form.DBInfo, error)
	UpsertForm(ctx context.Context, info form.DBInfo) error
	DeleteForm(ctx context.Context, formID int64) error
}

// ModuleMarker is told when a module gains or loses its last stored form.
type ModuleMarker interface {
	SetModuleRemovable(bundleName, moduleName string, removable bool) error
}

// DBCache mirrors the stored forms in memory. Reads never touch the
// backend; writes go to both.
type DBCache struct {
	backend Backend
	modules ModuleMarker
	logger  *zap.Logger

	mu    sync.Mutex
	infos []form.DBInfo
}

// NewDBCache wraps backend. modules may be nil.
func NewDBCache(backend Backend, modules ModuleMarker, logger *zap.Logger) *DBCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBCache{backend: backend, modules: modules, logger: logger}
}

// Start loads every stored form into memory.
func (c *DBCache) Start(ctx context.Context) error {
	infos, err := c.backend.LoadForms(ctx)
	if err != nil {
		return errcode.Wrap(errcode.CommonCode, "DBCache.Start", err)
	}
	c.mu.Lock()
	c.infos = infos
	c.mu.Unlock()
	c.logger.Info("form db cache loaded", zap.Int("forms", len(infos)))
	return nil
}

func (c *DBCache) indexLocked(formID int64) int {
	return slices.IndexFunc(c.infos, func(i form.DBInfo) bool { return i.FormID == formID })
}

// SaveFormInfo stores info, writing through only when it changed.
func (c *DBCache) SaveFormInfo(ctx context.Context, info form.DBInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx, info)
}

func (c *DBCache) saveLocked(ctx context.Context, info form.DBInfo) error {
	info.UserUIDs = slices.Clone(info.UserUIDs)
	if i := c.indexLocked(info.FormID); i >= 0 {
		if equalInfo(c.infos[i], info) {
			return nil
		}
		c.infos[i] = info
	} else {
		c.infos = append(c.infos, info)
	}
	if err := c.backend.UpsertForm(ctx, info); err != nil {
		return errcode.Wrap(errcode.CommonCode, "SaveFormInfo", err)
	}
	return nil
}

func equalInfo(a, b form.DBInfo) bool {
	return a.FormID == b.FormID && a.UserID == b.UserID &&
		a.FormName == b.FormName && a.BundleName == b.BundleName &&
		a.ModuleName == b.ModuleName && a.AbilityName == b.AbilityName &&
		slices.Equal(a.UserUIDs, b.UserUIDs)
}

// UpdateDBRecord stores the persisted projection of r.
func (c *DBCache) UpdateDBRecord(ctx context.Context, formID int64, r *form.Record) error {
	info := r.DBInfo()
	info.FormID = formID
	return c.SaveFormInfo(ctx, info)
}

// DeleteFormInfo removes a form from memory and the backend.
func (c *DBCache) DeleteFormInfo(ctx context.Context, formID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(formID); i >= 0 {
		c.infos = slices.Delete(c.infos, i, i+1)
	} else {
		c.logger.Debug("delete of unstored form", zap.Int64("form_id", formID))
	}
	if err := c.backend.DeleteForm(ctx, formID); err != nil {
		return errcode.Wrap(errcode.CommonCode, "DeleteFormInfo", err)
	}
	return nil
}

// DeleteFormInfoByBundleName removes every form of a provider bundle and
// returns what was removed.
func (c *DBCache) DeleteFormInfoByBundleName(ctx context.Context, bundleName string) []form.DBInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []form.DBInfo
	kept := c.infos[:0]
	for _, info := range c.infos {
		if info.BundleName != bundleName {
			kept = append(kept, info)
			continue
		}
		if err := c.backend.DeleteForm(ctx, info.FormID); err != nil {
			c.logger.Error("delete stored form", zap.Int64("form_id", info.FormID), zap.Error(err))
			kept = append(kept, info)
			continue
		}
		removed = append(removed, info)
	}
	c.infos = kept
	return removed
}

// GetAllFormInfo returns a copy of every stored form ordered by id.
func (c *DBCache) GetAllFormInfo() []form.DBInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]form.DBInfo, len(c.infos))
	for i, info := range c.infos {
		info.UserUIDs = slices.Clone(info.UserUIDs)
		out[i] = info
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormID < out[j].FormID })
	return out
}

// GetDBRecord returns the stored form.
func (c *DBCache) GetDBRecord(formID int64) (form.DBInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(formID)
	if i < 0 {
		return form.DBInfo{}, errcode.Newf(errcode.NotExist, "GetDBRecord", "form %d not stored", formID)
	}
	info := c.infos[i]
	info.UserUIDs = slices.Clone(info.UserUIDs)
	return info, nil
}

// GetMatchCount counts the stored forms of one module.
func (c *DBCache) GetMatchCount(bundleName, moduleName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, info := range c.infos {
		if info.BundleName == bundleName && info.ModuleName == moduleName {
			n++
		}
	}
	return n
}

// GetNoHostDBForms strips uid from the stored forms. Forms left without
// owners are returned grouped by provider key; the ids of forms that
// still have owners are returned as found.
func (c *DBCache) GetNoHostDBForms(ctx context.Context, uid int32) (map[string][]int64, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	noHost := make(map[string][]int64)
	var found []int64
	for i := range c.infos {
		info := c.infos[i]
		if !info.HasUID(uid) {
			continue
		}
		info.UserUIDs = slices.DeleteFunc(slices.Clone(info.UserUIDs), func(u int32) bool { return u == uid })
		if len(info.UserUIDs) == 0 {
			key := info.BundleName + "::" + info.AbilityName
			noHost[key] = append(noHost[key], info.FormID)
			continue
		}
		found = append(found, info.FormID)
		if err := c.saveLocked(ctx, info); err != nil {
			c.logger.Error("update stored form owners", zap.Int64("form_id", info.FormID), zap.Error(err))
		}
		if c.modules != nil {
			if err := c.modules.SetModuleRemovable(info.BundleName, info.ModuleName, false); err != nil {
				c.logger.Warn("mark module not removable", zap.String("bundle", info.BundleName), zap.Error(err))
			}
		}
	}
	return noHost, found
}

// IsHostOwner reports whether hostUID owns the stored form.
func (c *DBCache) IsHostOwner(formID int64, hostUID int32) bool {
	info, err := c.GetDBRecord(formID)
	return err == nil && info.HasUID(hostUID)
}

// Len returns the number of stored forms.
func (c *DBCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.infos)
}
