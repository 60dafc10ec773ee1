package form

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/taskqueue"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// Default quotas.
const (
	DefaultMaxForms        = 512
	DefaultMaxRecordPerApp = 256
	DefaultMaxTempForms    = 256
)

// CacheProbe reports whether provider data is cached for a form.
type CacheProbe interface {
	IsExist(formID int64) bool
}

// Limits caps how many forms may exist.
type Limits struct {
	MaxForms        int
	MaxRecordPerApp int
	MaxTempForms    int
}

func (l Limits) withDefaults() Limits {
	if l.MaxForms <= 0 {
		l.MaxForms = DefaultMaxForms
	}
	if l.MaxRecordPerApp <= 0 {
		l.MaxRecordPerApp = DefaultMaxRecordPerApp
	}
	if l.MaxTempForms <= 0 {
		l.MaxTempForms = DefaultMaxTempForms
	}
	return l
}

// DataMgrOptions configures a DataMgr.
type DataMgrOptions struct {
	IDs    *IDGenerator
	Limits Limits
	Cache  CacheProbe
	// Tasks runs host callbacks and host death handling.
	Tasks *taskqueue.Queue
	// OnHostDied is posted to Tasks when a host client dies.
	OnHostDied func(remote ipc.RemoteObject)
	Logger     *zap.Logger
}

// DataMgr owns the form records, the temp form list and the host records.
// Lock order is hostMu before mu.
type DataMgr struct {
	ids        *IDGenerator
	limits     Limits
	cache      CacheProbe
	tasks      *taskqueue.Queue
	onHostDied func(ipc.RemoteObject)
	logger     *zap.Logger

	mu        sync.RWMutex
	records   map[int64]*Record
	tempForms []int64

	hostMu sync.Mutex
	hosts  []*HostRecord
	states map[string]*HostRecord
}

// NewDataMgr creates an empty manager.
func NewDataMgr(opts DataMgrOptions) *DataMgr {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IDs == nil {
		opts.IDs = NewIDGenerator("")
	}
	return &DataMgr{
		ids:        opts.IDs,
		limits:     opts.Limits.withDefaults(),
		cache:      opts.Cache,
		tasks:      opts.Tasks,
		onHostDied: opts.OnHostDied,
		logger:     opts.Logger,
		records:    make(map[int64]*Record),
		states:     make(map[string]*HostRecord),
	}
}

// IDs returns the form id generator.
func (m *DataMgr) IDs() *IDGenerator {
	return m.ids
}

// GenerateFormID mints a new form id.
func (m *DataMgr) GenerateFormID() int64 {
	return m.ids.Next()
}

// AllotFormRecord returns the record for info.FormID, creating it when
// absent. Temp forms are tracked in the temp list.
func (m *DataMgr) AllotFormRecord(info *ItemInfo, callingUID, userID int32) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.Temp && !slices.Contains(m.tempForms, info.FormID) {
		m.tempForms = append(m.tempForms, info.FormID)
	}
	if r, ok := m.records[info.FormID]; ok {
		return r.Clone()
	}
	r := m.CreateFormRecord(info, callingUID, userID)
	m.records[info.FormID] = r
	return r.Clone()
}

// CreateFormRecord builds a record from info without storing it.
func (m *DataMgr) CreateFormRecord(info *ItemInfo, callingUID, userID int32) *Record {
	r := &Record{
		FormID:            info.FormID,
		Name:              info.FormName,
		BundleName:        info.ProviderBundle,
		ModuleName:        info.ModuleName,
		AbilityName:       info.AbilityName,
		PackageName:       info.PackageName,
		Dimension:         info.Dimension,
		Temp:              info.Temp,
		FormVisibleNotify: info.FormVisibleNotify,
		IsEnableUpdate:    info.EnableUpdate,
		JsFormCodePath:    info.ModuleInfo[info.ModuleName],
		Src:               info.Src,
		DesignWidth:       info.DesignWidth,
		AutoDesign:        info.AutoDesignWidth,
		HapSourceDirs:     slices.Clone(info.HapSourceDirs),
		UserID:            userID,
		UpdateAtHour:      -1,
		UpdateAtMin:       -1,
	}
	if r.IsEnableUpdate {
		parseUpdateConfig(r, info)
	}
	r.AddUID(callingUID)
	return r
}

func parseUpdateConfig(r *Record, info *ItemInfo) {
	if info.UpdateDuration > 0 {
		switch {
		case info.UpdateDuration <= 1:
			r.UpdateDuration = MinPeriod
		case info.UpdateDuration >= MaxConfigDuration:
			r.UpdateDuration = MaxPeriod
		default:
			r.UpdateDuration = time.Duration(info.UpdateDuration) * MinPeriod
		}
		return
	}
	r.IsEnableUpdate = false
	r.UpdateDuration = 0
	hour, minute, ok := ParseUpdateAt(info.ScheduledUpdateTime)
	if !ok {
		return
	}
	r.UpdateAtHour = hour
	r.UpdateAtMin = minute
	r.IsEnableUpdate = true
}

// ParseUpdateAt parses an "HH:MM" schedule.
func ParseUpdateAt(s string) (hour, minute int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	mi, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || mi < 0 || mi > 59 {
		return 0, 0, false
	}
	return h, mi, true
}

// cachedData is implemented by caches that can also return the data.
type cachedData interface {
	GetData(formID int64) (string, map[string][]byte, bool)
}

// CreateFormJsInfo renders the host view of a record. Cached images, and
// cached data when the record carries none, are filled in.
func (m *DataMgr) CreateFormJsInfo(formID int64, r *Record) JsInfo {
	info := NewJsInfo(r)
	info.FormID = formID
	if src, ok := m.cache.(cachedData); ok {
		if data, images, ok := src.GetData(formID); ok {
			if info.FormData == "" {
				info.FormData = data
			}
			info.ImageData = images
		}
	}
	return info
}

// CheckTempEnoughForm fails when the temp form quota is used up.
func (m *DataMgr) CheckTempEnoughForm() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.tempForms) >= m.limits.MaxTempForms {
		return errcode.Newf(errcode.MaxSystemTempForms, "CheckTempEnoughForm", "%d temp forms exist", len(m.tempForms))
	}
	return nil
}

// CheckEnoughForm fails when the system or callingUID quota is used up.
func (m *DataMgr) CheckEnoughForm(callingUID int32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records)-len(m.tempForms) >= m.limits.MaxForms {
		return errcode.Newf(errcode.MaxSystemForms, "CheckEnoughForm", "%d forms exist", m.limits.MaxForms)
	}
	count := 0
	for _, r := range m.records {
		if r.Temp || !r.HasUID(callingUID) {
			continue
		}
		count++
		if count >= m.limits.MaxRecordPerApp {
			return errcode.Newf(errcode.MaxFormsPerClient, "CheckEnoughForm", "uid %d holds %d forms", callingUID, count)
		}
	}
	return nil
}

// DeleteTempForm drops formID from the temp list.
func (m *DataMgr) DeleteTempForm(formID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.Index(m.tempForms, formID)
	if i < 0 {
		return false
	}
	m.tempForms = slices.Delete(m.tempForms, i, i+1)
	return true
}

// ExistTempForm reports whether formID is a tracked temp form.
func (m *DataMgr) ExistTempForm(formID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.tempForms, formID)
}

// TempFormCount returns the temp list length.
func (m *DataMgr) TempFormCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tempForms)
}

func (m *DataMgr) mutate(formID int64, fn func(r *Record)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[formID]
	if !ok {
		return false
	}
	fn(r)
	return true
}

// ModifyFormTempFlag sets the temp flag of a record.
func (m *DataMgr) ModifyFormTempFlag(formID int64, temp bool) bool {
	return m.mutate(formID, func(r *Record) { r.Temp = temp })
}

// AddFormUserUID adds uid to the owners of a record.
func (m *DataMgr) AddFormUserUID(formID int64, uid int32) bool {
	return m.mutate(formID, func(r *Record) { r.AddUID(uid) })
}

// DeleteFormUserUID removes uid from the owners of a record.
func (m *DataMgr) DeleteFormUserUID(formID int64, uid int32) bool {
	return m.mutate(formID, func(r *Record) { r.RemoveUID(uid) })
}

// UpdateFormRecord replaces a stored record.
func (m *DataMgr) UpdateFormRecord(formID int64, r *Record) bool {
	return m.mutate(formID, func(stored *Record) { *stored = *r.Clone() })
}

// GetFormRecord returns a copy of the record.
func (m *DataMgr) GetFormRecord(formID int64) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[formID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// GetFormRecordsByBundle returns copies of the records a provider serves.
func (m *DataMgr) GetFormRecordsByBundle(bundleName string) []*Record {
	return m.filter(func(r *Record) bool { return r.BundleName == bundleName })
}

// GetFormRecordsByUserID returns copies of the records of a user.
func (m *DataMgr) GetFormRecordsByUserID(userID int32) []*Record {
	return m.filter(func(r *Record) bool { return r.UserID == userID })
}

// AllRecords returns copies of every record ordered by id.
func (m *DataMgr) AllRecords() []*Record {
	return m.filter(func(*Record) bool { return true })
}

func (m *DataMgr) filter(keep func(*Record) bool) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormID < out[j].FormID })
	return out
}

// RecordCount returns the number of records.
func (m *DataMgr) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// ExistFormRecord reports whether formID has a record.
func (m *DataMgr) ExistFormRecord(formID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[formID]
	return ok
}

// HasFormUserUIDs reports whether anyone still owns formID.
func (m *DataMgr) HasFormUserUIDs(formID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[formID]
	return ok && len(r.UserUIDs) > 0
}

// DeleteFormRecord removes a record.
func (m *DataMgr) DeleteFormRecord(formID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[formID]; !ok {
		return false
	}
	delete(m.records, formID)
	return true
}

// FindMatchedFormID resolves a short id against the stored records by
// its low word. The smallest matching id wins.
func (m *DataMgr) FindMatchedFormID(formID int64) int64 {
	if !IsShortID(formID) {
		return formID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := int64(0)
	for stored := range m.records {
		if LowBits(stored) == LowBits(formID) && (matched == 0 || stored < matched) {
			matched = stored
		}
	}
	if matched == 0 {
		return formID
	}
	return matched
}

// SetFormCacheInited marks whether the provider delivered data.
func (m *DataMgr) SetFormCacheInited(formID int64, inited bool) {
	m.mutate(formID, func(r *Record) {
		r.IsInited = inited
		r.NeedRefresh = !inited
	})
}

func (m *DataMgr) SetNeedRefresh(formID int64, need bool) {
	m.mutate(formID, func(r *Record) { r.NeedRefresh = need })
}

func (m *DataMgr) SetCountTimerRefresh(formID int64, count bool) {
	m.mutate(formID, func(r *Record) { r.CountTimerRefresh = count })
}

func (m *DataMgr) SetEnableUpdate(formID int64, enable bool) {
	m.mutate(formID, func(r *Record) { r.IsEnableUpdate = enable })
}

func (m *DataMgr) SetVisible(formID int64, visible bool) {
	m.mutate(formID, func(r *Record) { r.IsVisible = visible })
}

// SetUpdateInfo replaces the refresh schedule of a record.
func (m *DataMgr) SetUpdateInfo(formID int64, enable bool, duration time.Duration, hour, minute int) {
	m.mutate(formID, func(r *Record) {
		r.IsEnableUpdate = enable
		r.UpdateDuration = duration
		r.UpdateAtHour = hour
		r.UpdateAtMin = minute
	})
}

// UpdateFormData stores provider data on the record.
func (m *DataMgr) UpdateFormData(formID int64, data string) {
	m.mutate(formID, func(r *Record) { r.Data = data })
}

// IsFormCached reports whether a host can be served from the cache.
func (m *DataMgr) IsFormCached(r *Record) bool {
	return m.cache != nil && m.cache.IsExist(r.FormID)
}

// ClearFormRecords drops every record and temp form and returns the
// ids that were dropped.
func (m *DataMgr) ClearFormRecords() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := make([]int64, 0, len(m.records))
	for formID := range m.records {
		dropped = append(dropped, formID)
	}
	m.records = make(map[int64]*Record)
	m.tempForms = nil
	return dropped
}

// NoHostTempForms strips uid from temp forms. Forms left without owners
// are returned grouped by provider key, and are removed from the records.
func (m *DataMgr) NoHostTempForms(uid int32) map[string][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]int64)
	for formID, r := range m.records {
		if !r.Temp || !r.HasUID(uid) {
			continue
		}
		r.RemoveUID(uid)
		if len(r.UserUIDs) == 0 {
			out[r.ProviderKey()] = append(out[r.ProviderKey()], formID)
		}
	}
	for _, ids := range out {
		for _, formID := range ids {
			delete(m.records, formID)
			if i := slices.Index(m.tempForms, formID); i >= 0 {
				m.tempForms = slices.Delete(m.tempForms, i, i+1)
			}
		}
		slices.Sort(ids)
	}
	return out
}

// AllotFormHostRecord attaches formID to the host bound to remote,
// creating the host record on first use.
func (m *DataMgr) AllotFormHostRecord(info *ItemInfo, remote ipc.RemoteObject, formID int64, callingUID int32) (*HostRecord, error) {
	if remote == nil {
		return nil, errcode.New(errcode.InvalidParam, "AllotFormHostRecord", "nil host")
	}
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for _, h := range m.hosts {
		if h.IsRemote(remote) {
			h.AddForm(formID)
			return h, nil
		}
	}
	h := NewHostRecord(info, remote, callingUID, m.hostDiedHandler(), m.tasks, m.logger)
	h.AddForm(formID)
	m.hosts = append(m.hosts, h)
	return h, nil
}

func (m *DataMgr) hostDiedHandler() func(ipc.RemoteObject) {
	if m.onHostDied == nil {
		return nil
	}
	return func(remote ipc.RemoteObject) {
		if m.tasks == nil {
			m.onHostDied(remote)
			return
		}
		if err := m.tasks.Post(func() { m.onHostDied(remote) }); err != nil {
			m.logger.Warn("host death dropped", zap.String("host", remote.ID().String()), zap.Error(err))
		}
	}
}

// GetMatchedHostClient returns the host bound to remote.
func (m *DataMgr) GetMatchedHostClient(remote ipc.RemoteObject) (*HostRecord, bool) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for _, h := range m.hosts {
		if h.IsRemote(remote) {
			return h, true
		}
	}
	return nil, false
}

// GetFormHostRecords returns the hosts holding formID.
func (m *DataMgr) GetFormHostRecords(formID int64) []*HostRecord {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	var out []*HostRecord
	for _, h := range m.hosts {
		if h.Contains(formID) {
			out = append(out, h)
		}
	}
	return out
}

// HostRecords returns every host record.
func (m *DataMgr) HostRecords() []*HostRecord {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	return slices.Clone(m.hosts)
}

// DeleteHostRecord detaches formID from the host bound to remote and drops
// the host once it holds nothing.
func (m *DataMgr) DeleteHostRecord(remote ipc.RemoteObject, formID int64) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for i, h := range m.hosts {
		if !h.IsRemote(remote) {
			continue
		}
		h.DelForm(formID)
		if h.IsEmpty() {
			h.CleanResource()
			m.hosts = slices.Delete(m.hosts, i, i+1)
		}
		return
	}
}

// CleanHostRemovedForms detaches removed forms from every host and tells
// each affected host.
func (m *DataMgr) CleanHostRemovedForms(removed []int64) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for _, h := range m.hosts {
		var matched []int64
		for _, formID := range removed {
			if h.Contains(formID) {
				matched = append(matched, formID)
				h.DelForm(formID)
			}
		}
		if len(matched) > 0 {
			h.OnFormUninstalled(matched)
		}
	}
}

// HandleHostDied drops the host bound to remote together with its temp
// forms. The removed temp records are returned so the caller can notify
// their providers.
func (m *DataMgr) HandleHostDied(remote ipc.RemoteObject) []*Record {
	var host *HostRecord
	m.hostMu.Lock()
	for i, h := range m.hosts {
		if h.IsRemote(remote) {
			host = h
			h.CleanResource()
			m.hosts = slices.Delete(m.hosts, i, i+1)
			break
		}
	}
	m.hostMu.Unlock()
	if host == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []*Record
	m.tempForms = slices.DeleteFunc(m.tempForms, func(formID int64) bool {
		if !host.Contains(formID) {
			return false
		}
		if r, ok := m.records[formID]; ok {
			removed = append(removed, r)
			delete(m.records, formID)
		}
		return true
	})
	m.logger.Info("form host died",
		zap.String("host", host.HostBundle()),
		zap.Int("temp_forms_removed", len(removed)))
	return removed
}

// IsEnableRefresh reports whether any host wants refreshes of formID.
func (m *DataMgr) IsEnableRefresh(formID int64) bool {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for _, h := range m.hosts {
		if h.IsEnableRefresh(formID) {
			return true
		}
	}
	return false
}

// IsEnableUpdate reports whether any host accepts updates of formID.
func (m *DataMgr) IsEnableUpdate(formID int64) bool {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for _, h := range m.hosts {
		if h.IsEnableUpdate(formID) {
			return true
		}
	}
	return false
}

// UpdateHostNeedRefresh flags every host holding formID.
func (m *DataMgr) UpdateHostNeedRefresh(formID int64, need bool) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	for _, h := range m.hosts {
		if h.Contains(formID) {
			h.SetNeedRefresh(formID, need)
		}
	}
}

// UpdateHostForm pushes r to every host with refresh enabled for it.
func (m *DataMgr) UpdateHostForm(formID int64, r *Record) bool {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	updated := false
	for _, h := range m.hosts {
		if h.IsEnableRefresh(formID) {
			h.OnUpdate(m.CreateFormJsInfo(formID, r))
			h.SetNeedRefresh(formID, false)
			updated = true
		}
	}
	return updated
}

// UpdateHostFormFlag toggles refresh for the forms the host bound to
// remote holds. With onlyEnableUpdate only the update flag changes.
// Forms that must be fetched from their provider on enable are returned.
func (m *DataMgr) UpdateHostFormFlag(formIDs []int64, remote ipc.RemoteObject, flag, onlyEnableUpdate bool) ([]int64, error) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	var host *HostRecord
	for _, h := range m.hosts {
		if h.IsRemote(remote) {
			host = h
			break
		}
	}
	if host == nil {
		return nil, errcode.New(errcode.InvalidParam, "UpdateHostFormFlag", "host not found")
	}

	var refresh []int64
	for _, formID := range formIDs {
		if formID <= 0 {
			continue
		}
		matched := m.FindMatchedFormID(formID)
		if !host.Contains(matched) {
			m.logger.Debug("form not held by host", zap.Int64("form_id", formID))
			continue
		}
		if !onlyEnableUpdate {
			host.SetEnableRefresh(matched, flag)
		}
		host.SetEnableUpdate(matched, flag)
		if !flag {
			continue
		}
		r, ok := m.GetFormRecord(matched)
		if !ok {
			continue
		}
		if r.NeedRefresh {
			refresh = append(refresh, matched)
			continue
		}
		if !host.IsNeedRefresh(matched) {
			continue
		}
		if m.IsFormCached(r) {
			host.OnUpdate(m.CreateFormJsInfo(matched, r))
			host.SetNeedRefresh(matched, false)
		} else {
			refresh = append(refresh, matched)
		}
	}
	return refresh, nil
}

// CreateFormStateRecord remembers which host asked provider for a form
// state so the answer can be routed back.
func (m *DataMgr) CreateFormStateRecord(provider string, remote ipc.RemoteObject, callingUID int32) error {
	if remote == nil {
		return errcode.New(errcode.InvalidParam, "CreateFormStateRecord", "nil host")
	}
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	if h, ok := m.states[provider]; ok && h.IsRemote(remote) {
		return nil
	}
	m.states[provider] = NewHostRecord(&ItemInfo{}, remote, callingUID, nil, m.tasks, m.logger)
	return nil
}

// AcquireFormStateBack delivers a provider's state answer to the host
// that asked for it.
func (m *DataMgr) AcquireFormStateBack(state State, provider string, want *types.Want) error {
	m.hostMu.Lock()
	h, ok := m.states[provider]
	delete(m.states, provider)
	m.hostMu.Unlock()
	if !ok {
		return errcode.Newf(errcode.NotExist, "AcquireFormStateBack", "no state request for %s", provider)
	}
	h.OnAcquireState(state, want)
	return nil
}

// ClearHostDataByUID drops every host record of uid.
func (m *DataMgr) ClearHostDataByUID(uid int32) {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	m.hosts = slices.DeleteFunc(m.hosts, func(h *HostRecord) bool {
		if h.CallerUID() != uid {
			return false
		}
		h.CleanResource()
		return true
	})
}

// FindFormInfo picks the form named in want, or the module default.
func FindFormInfo(infos []types.FormInfo, formName string) (types.FormInfo, error) {
	for _, fi := range infos {
		if formName == "" && fi.DefaultFlag {
			return fi, nil
		}
		if formName != "" && fi.Name == formName {
			return fi, nil
		}
	}
	if formName == "" {
		return types.FormInfo{}, errcode.New(errcode.GetInfoFailed, "GetFormInfo", "no default form")
	}
	return types.FormInfo{}, errcode.New(errcode.GetInfoFailed, "GetFormInfo", fmt.Sprintf("form %q not declared", formName))
}

// IsDimensionValid reports whether dimension is supported by fi.
func IsDimensionValid(fi types.FormInfo, dimension int) bool {
	if len(fi.SupportDimensions) == 0 {
		return dimension == fi.DefaultDimension || dimension == DefaultDimension
	}
	return slices.Contains(fi.SupportDimensions, dimension)
}
