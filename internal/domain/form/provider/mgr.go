package provider

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// DefaultMaxDataSize is the largest provider payload kept in the cache.
const DefaultMaxDataSize = 1024

// DataCache stores provider data for hosts.
type DataCache interface {
	AddData(formID int64, data string, images map[string][]byte) bool
	DeleteData(formID int64) bool
	IsExist(formID int64) bool
}

// RefreshCounter tracks timer refresh budgets.
type RefreshCounter interface {
	IsLimiterEnableRefresh(formID int64) bool
	IncreaseRefreshCount(formID int64)
}

// Options configures a Mgr.
type Options struct {
	Data      *form.DataMgr
	Cache     DataCache
	Timers    RefreshCounter
	Connector Connector
	// MaxDataSize caps cached payloads; larger ones evict the entry.
	MaxDataSize int
	// IsScreenOn defers refreshes while it reports false. Nil means on.
	IsScreenOn  func() bool
	CallTimeout time.Duration
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// Mgr drives every provider-facing form operation.
type Mgr struct {
	opts   Options
	deps   connDeps
	supply *SupplyCallback
	logger *zap.Logger
}

var _ supplyTarget = (*Mgr)(nil)

// NewMgr creates a provider manager and its supply callback.
func NewMgr(opts Options) *Mgr {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxDataSize <= 0 {
		opts.MaxDataSize = DefaultMaxDataSize
	}
	if opts.IsScreenOn == nil {
		opts.IsScreenOn = func() bool { return true }
	}
	m := &Mgr{opts: opts, logger: opts.Logger}
	m.supply = newSupplyCallback(m, opts.Connector, opts.Logger, opts.Metrics.SetProviderConnections)
	m.deps = connDeps{
		supply:  m.supply,
		timeout: opts.CallTimeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	return m
}

// Supply returns the supply callback providers answer through.
func (m *Mgr) Supply() *SupplyCallback {
	return m.supply
}

// SetTimers attaches the refresh counter after construction.
func (m *Mgr) SetTimers(t RefreshCounter) {
	m.opts.Timers = t
}

func (m *Mgr) connect(op string, conn *Connection) error {
	if m.opts.Connector == nil {
		return errcode.New(errcode.BindProviderFailed, op, "no provider connector")
	}
	want := types.NewWant(conn.Element().BundleName, conn.Element().AbilityName)
	want.Flags |= types.FlagAbilityFormEnabled
	if err := m.opts.Connector.Connect(want, conn); err != nil {
		m.logger.Error("connect form provider",
			zap.String("op", op),
			zap.String("provider", conn.ProviderKey()),
			zap.Error(err))
		if errcode.Is(err, errcode.BindProviderFailed) {
			return err
		}
		return errcode.Wrap(errcode.BindProviderFailed, op, err)
	}
	return nil
}

func (m *Mgr) hostInfo(formID int64, r *form.Record, images map[string][]byte) form.JsInfo {
	info := m.opts.Data.CreateFormJsInfo(formID, r)
	if len(images) > 0 {
		info.ImageData = images
	}
	return info
}

func (m *Mgr) cacheData(formID int64, data string, images map[string][]byte) {
	if m.opts.Cache == nil {
		return
	}
	if len(data) <= m.opts.MaxDataSize {
		m.opts.Cache.AddData(formID, data, images)
		return
	}
	m.logger.Debug("form data over cache limit", zap.Int64("form_id", formID), zap.Int("size", len(data)))
	m.opts.Cache.DeleteData(formID)
}

// AcquireForm stores the first answer of a provider and hands it to the
// hosts holding the form.
func (m *Mgr) AcquireForm(formID int64, info Info) error {
	if formID <= 0 {
		return errcode.New(errcode.InvalidParam, "AcquireForm", "form id must be positive")
	}
	r, ok := m.opts.Data.GetFormRecord(formID)
	if !ok {
		return errcode.Newf(errcode.NotExist, "AcquireForm", "form %d", formID)
	}
	hosts := m.opts.Data.GetFormHostRecords(formID)
	if len(hosts) == 0 {
		return errcode.Newf(errcode.CommonCode, "AcquireForm", "form %d has no host", formID)
	}

	if r.IsInited {
		if m.opts.Data.IsFormCached(r) {
			for _, h := range hosts {
				h.OnAcquire(m.hostInfo(formID, r, nil))
			}
			return nil
		}
		want := types.NewWant(r.BundleName, r.AbilityName).SetParam(form.ParamFormUserID, r.UserID)
		return m.RefreshForm(formID, want, true)
	}

	data, err := info.ProviderData()
	if err != nil {
		m.logger.Warn("bad provider data", zap.Int64("form_id", formID), zap.Error(err))
		data, _ = form.NewProviderData("")
	}
	jsonData := data.DataString()
	m.opts.Data.SetFormCacheInited(formID, true)
	m.opts.Data.UpdateFormData(formID, jsonData)
	r.IsInited, r.NeedRefresh, r.Data = true, false, jsonData

	m.cacheData(formID, jsonData, data.Images())
	js := m.hostInfo(formID, r, data.Images())
	for _, h := range hosts {
		h.OnAcquire(js)
	}
	return nil
}

// RefreshForm asks the provider for fresh data. Refreshes for another
// user, with the screen off, or that no host wants are deferred by
// flagging the record.
func (m *Mgr) RefreshForm(formID int64, want *types.Want, isVisibleToFresh bool) error {
	r, ok := m.opts.Data.GetFormRecord(formID)
	if !ok {
		return errcode.Newf(errcode.NotExist, "RefreshForm", "form %d", formID)
	}
	if userID := int32(want.IntParam(form.ParamFormUserID, 0)); userID != r.UserID {
		m.opts.Data.SetNeedRefresh(formID, true)
		return errcode.Newf(errcode.OperationNotSelf, "RefreshForm", "form %d belongs to user %d", formID, r.UserID)
	}

	isTimer := want.BoolParam(form.ParamFormIsTimer, false)
	newWant := want.Clone()
	newWant.RemoveParam(form.ParamFormIsTimer)
	if isTimer {
		m.opts.Data.SetCountTimerRefresh(formID, true)
	}

	if !m.opts.IsScreenOn() {
		m.opts.Data.SetNeedRefresh(formID, true)
		m.logger.Debug("screen off, refresh deferred", zap.Int64("form_id", formID))
		return nil
	}
	if !m.isNeedToFresh(r, formID, isVisibleToFresh) {
		m.opts.Data.SetNeedRefresh(formID, true)
		m.logger.Debug("no host wants refresh, deferred", zap.Int64("form_id", formID))
		return nil
	}

	refresh := &form.Record{
		FormID:            formID,
		BundleName:        r.BundleName,
		AbilityName:       r.AbilityName,
		IsInited:          r.IsInited,
		CountTimerRefresh: isTimer,
	}
	return m.ConnectAmsForRefresh(formID, refresh, newWant, isTimer)
}

func (m *Mgr) isNeedToFresh(r *form.Record, formID int64, isVisibleToFresh bool) bool {
	if m.opts.Data.IsEnableRefresh(formID) {
		return true
	}
	if isVisibleToFresh {
		return r.IsVisible
	}
	return m.opts.Data.IsEnableUpdate(formID)
}

// ConnectAmsForRefresh binds the provider to deliver a refresh. Timer
// refreshes use the refresh connection and count against the limiter;
// other refreshes use the update connection.
func (m *Mgr) ConnectAmsForRefresh(formID int64, r *form.Record, want *types.Want, isTimerRefresh bool) error {
	if isTimerRefresh && m.opts.Timers != nil && !m.opts.Timers.IsLimiterEnableRefresh(formID) {
		return errcode.Newf(errcode.MaxRefresh, "ConnectAmsForRefresh", "form %d reached its refresh limit", formID)
	}
	var conn *Connection
	if isTimerRefresh {
		conn = m.deps.refresh(formID, want, r.BundleName, r.AbilityName)
	} else {
		conn = m.deps.update(formID, want, r.BundleName, r.AbilityName)
	}
	if err := m.connect("ConnectAmsForRefresh", conn); err != nil {
		return err
	}
	if r.CountTimerRefresh {
		m.IncreaseTimerRefreshCount(formID)
	}
	return nil
}

// NotifyProviderFormDelete tells the provider a form is gone.
func (m *Mgr) NotifyProviderFormDelete(formID int64, r *form.Record) error {
	if r.AbilityName == "" || r.BundleName == "" {
		return errcode.New(errcode.InvalidParam, "NotifyProviderFormDelete", "empty provider names")
	}
	return m.connect("NotifyProviderFormDelete", m.deps.deleteOne(formID, r.BundleName, r.AbilityName))
}

// NotifyProviderFormsBatchDelete tells one provider several forms are gone.
func (m *Mgr) NotifyProviderFormsBatchDelete(bundleName, abilityName string, formIDs []int64) error {
	if abilityName == "" || bundleName == "" {
		return errcode.New(errcode.InvalidParam, "NotifyProviderFormsBatchDelete", "empty provider names")
	}
	return m.connect("NotifyProviderFormsBatchDelete", m.deps.batchDelete(formIDs, bundleName, abilityName))
}

// UpdateForm merges provider data into a form and pushes it to hosts.
func (m *Mgr) UpdateForm(formID int64, data *form.ProviderData) error {
	r, ok := m.opts.Data.GetFormRecord(formID)
	if !ok {
		return errcode.Newf(errcode.NotExist, "UpdateForm", "form %d", formID)
	}
	return m.updateForm(formID, r, data)
}

// UpdateProviderForm handles a recreate answer.
func (m *Mgr) UpdateProviderForm(formID int64, info Info) error {
	data, err := info.ProviderData()
	if err != nil {
		return errcode.Wrap(errcode.InvalidParam, "UpdateForm", err)
	}
	return m.UpdateForm(formID, data)
}

func (m *Mgr) updateForm(formID int64, r *form.Record, data *form.ProviderData) error {
	merged, err := form.NewProviderData(r.Data)
	if err != nil {
		merged, _ = form.NewProviderData("")
	}
	merged.Merge(data.Data())
	images := data.Images()
	jsonData := merged.DataString()

	m.opts.Data.SetFormCacheInited(formID, true)
	m.opts.Data.UpdateFormData(formID, jsonData)
	m.opts.Data.UpdateHostNeedRefresh(formID, true)
	r.IsInited, r.NeedRefresh, r.Data = true, false, jsonData

	m.cacheData(formID, jsonData, images)
	if m.opts.IsScreenOn() {
		m.opts.Data.UpdateHostForm(formID, r)
	}
	return nil
}

// MessageEvent forwards a host message to the provider.
func (m *Mgr) MessageEvent(formID int64, r *form.Record, want *types.Want) error {
	if !m.opts.IsScreenOn() {
		return errcode.New(errcode.CommonCode, "MessageEvent", "screen is off")
	}
	return m.connect("MessageEvent", m.deps.msgEvent(formID, want, r.BundleName, r.AbilityName))
}

// IncreaseTimerRefreshCount counts a timer refresh once per request.
func (m *Mgr) IncreaseTimerRefreshCount(formID int64) {
	r, ok := m.opts.Data.GetFormRecord(formID)
	if !ok {
		return
	}
	if r.CountTimerRefresh && m.opts.Timers != nil {
		m.opts.Data.SetCountTimerRefresh(formID, false)
		m.opts.Timers.IncreaseRefreshCount(formID)
	}
}

// AcquireFormStateBack routes a provider's state answer to its host.
func (m *Mgr) AcquireFormStateBack(state form.State, provider string, want *types.Want) error {
	return m.opts.Data.AcquireFormStateBack(state, provider, want)
}

// AcquireProviderFormInfo binds the provider to fetch a form's data.
// recreate asks for the data of a form the provider already knows.
func (m *Mgr) AcquireProviderFormInfo(formID int64, info *form.ItemInfo, want *types.Want, recreate bool) error {
	w := want.Clone()
	acquireType := form.AcquireTypeCreate
	if recreate {
		acquireType = form.AcquireTypeRecreate
	}
	w.SetParam(form.ParamAcquireType, acquireType)
	w.SetParam(form.ParamFormIdentity, formID)
	return m.connect("AcquireProviderFormInfo", m.deps.acquire(formID, info, w))
}

// NotifyCastTempForm tells the provider a temp form became permanent.
func (m *Mgr) NotifyCastTempForm(formID int64, r *form.Record) error {
	return m.connect("CastTempForm", m.deps.castTemp(formID, r.BundleName, r.AbilityName))
}

// EventNotify tells a provider its forms changed visibility.
func (m *Mgr) EventNotify(bundleName, abilityName string, formIDs []int64, visibleType int32) error {
	return m.connect("EventNotify", m.deps.eventNotify(formIDs, visibleType, bundleName, abilityName))
}

// AcquireState asks a provider for the state of a form description.
func (m *Mgr) AcquireState(bundleName, abilityName string, wantArg *types.Want, providerKey string) error {
	return m.connect("AcquireFormState", m.deps.acquireState(bundleName, abilityName, wantArg, providerKey))
}

// OnProviderDied drops the connections bound to remote.
func (m *Mgr) OnProviderDied(remote ipc.RemoteObject) {
	m.supply.OnProviderDied(remote)
}
