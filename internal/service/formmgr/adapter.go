package formmgr

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/cache"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/provider"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/storage"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form/timer"
	"github.com/GriffinCanCode/AgentOS/framework/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

const (
	serviceName = "formmgr"
	lockStripes = 64
)

// ParamFormAddCount is how many records BatchAddFormRecords creates.
const ParamFormAddCount = "ohos.extra.param.key.form_add_count"

// AbilityStarter starts the ability a router event points at.
type AbilityStarter interface {
	StartAbility(req *ability.Request) (*ability.Token, error)
}

// Options configures an Adapter.
type Options struct {
	Data      *form.DataMgr
	DB        *storage.DBCache
	Cache     *cache.Cache
	Timers    *timer.Mgr
	Providers *provider.Mgr
	Bundles   bundle.Manager
	// Abilities serves RouterEvent; nil rejects router events.
	Abilities AbilityStarter
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Adapter implements the host-facing form operations.
type Adapter struct {
	data      *form.DataMgr
	db        *storage.DBCache
	cache     *cache.Cache
	timers    *timer.Mgr
	providers *provider.Mgr
	bundles   bundle.Manager
	abilities AbilityStarter
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	locks [lockStripes]sync.Mutex
}

// New creates an adapter and routes timer refreshes to the providers.
func New(opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &Adapter{
		data:      opts.Data,
		db:        opts.DB,
		cache:     opts.Cache,
		timers:    opts.Timers,
		providers: opts.Providers,
		bundles:   opts.Bundles,
		abilities: opts.Abilities,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named(serviceName),
	}
	a.timers.SetRefresh(a.onTimerRefresh)
	a.providers.SetTimers(a.timers)
	return a
}

// lockForm serializes operations on one form id.
func (a *Adapter) lockForm(formID int64) func() {
	mu := &a.locks[uint64(formID)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// track times an operation and records its outcome by error kind.
func (a *Adapter) track(op string) func(*error) {
	t := monitoring.NewTimer(a.metrics, serviceName, op)
	return func(errp *error) {
		result := "ok"
		if *errp != nil {
			result = errcode.KindOf(*errp).String()
		}
		t.Stop(result)
		a.metrics.SetFormRecords(a.data.RecordCount())
		a.metrics.SetFormsCached(a.cache.Len())
	}
}

func caller(ctx context.Context) (uid, userID int32) {
	c := ipc.CallerFrom(ctx)
	return c.UID, ipc.UserID(c.UID)
}

func (a *Adapter) onTimerRefresh(formID int64, userID int32, countTimer bool) {
	want := &types.Want{}
	want.SetParam(form.ParamFormUserID, userID)
	if countTimer {
		want.SetParam(form.ParamFormIsTimer, true)
	}
	if err := a.providers.RefreshForm(formID, want, false); err != nil {
		a.logger.Warn("timer refresh failed", zap.Int64("form_id", formID), zap.Error(err))
	}
}

// addFormTimer arms the refresh schedule of a permanent form.
func (a *Adapter) addFormTimer(r *form.Record) error {
	if !r.IsEnableUpdate || r.Temp {
		return nil
	}
	var err error
	switch {
	case r.UpdateDuration > 0:
		err = a.timers.AddFormTimer(r.FormID, r.UpdateDuration, r.UserID)
	case r.UpdateAtHour >= 0 && r.UpdateAtMin >= 0:
		err = a.timers.AddFormTimerAt(r.FormID, r.UpdateAtHour, r.UpdateAtMin, r.UserID)
	default:
		return nil
	}
	if err != nil {
		return errcode.Wrap(errcode.CommonCode, "AddFormTimer", err)
	}
	return nil
}

// ownedByHost returns the host bound to remote when it holds formID.
func (a *Adapter) ownedByHost(remote ipc.RemoteObject, formID int64) (*form.HostRecord, bool) {
	h, ok := a.data.GetMatchedHostClient(remote)
	if !ok || !h.Contains(formID) {
		return nil, false
	}
	return h, true
}

func (a *Adapter) dropFormData(formID int64) {
	a.cache.DeleteData(formID)
	a.timers.RemoveFormTimer(formID)
}
