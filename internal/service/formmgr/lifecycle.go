package formmgr

import (
	"context"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
)

// HandleHostDied drops a dead host together with its temp forms and tells
// each affected provider once.
func (a *Adapter) HandleHostDied(remote ipc.RemoteObject) {
	removed := a.data.HandleHostDied(remote)
	for _, r := range removed {
		unlock := a.lockForm(r.FormID)
		a.dropFormData(r.FormID)
		unlock()
	}
	a.notifyBatchDelete(recordsByProvider(removed))
	a.metrics.SetFormRecords(a.data.RecordCount())
}

// HandleHostRemoved strips an uninstalled host uid from every form. Forms
// left without owners are deleted and their providers told.
func (a *Adapter) HandleHostRemoved(ctx context.Context, uid int32) {
	groups := a.data.NoHostTempForms(uid)
	for _, ids := range groups {
		for _, formID := range ids {
			a.cache.DeleteData(formID)
		}
	}

	noHost, kept := a.db.GetNoHostDBForms(ctx, uid)
	for key, ids := range noHost {
		for _, formID := range ids {
			unlock := a.lockForm(formID)
			a.data.DeleteFormRecord(formID)
			if err := a.db.DeleteFormInfo(ctx, formID); err != nil {
				a.logger.Error("delete stored form", zap.Int64("form_id", formID), zap.Error(err))
			}
			a.dropFormData(formID)
			unlock()
		}
		groups[key] = append(groups[key], ids...)
	}
	for _, formID := range kept {
		a.data.DeleteFormUserUID(formID, uid)
	}

	a.data.ClearHostDataByUID(uid)
	a.notifyBatchDelete(groups)
	a.logger.Info("host removed",
		zap.Int32("uid", uid),
		zap.Int("providers_notified", len(groups)),
		zap.Int("forms_kept", len(kept)))
}

// HandleProviderRemoved deletes every form of an uninstalled provider
// bundle and tells the hosts holding them.
func (a *Adapter) HandleProviderRemoved(ctx context.Context, bundleName string) []int64 {
	var removed []int64
	for _, info := range a.db.DeleteFormInfoByBundleName(ctx, bundleName) {
		removed = append(removed, info.FormID)
	}
	for _, r := range a.data.GetFormRecordsByBundle(bundleName) {
		if r.Temp {
			a.data.DeleteTempForm(r.FormID)
		}
		removed = append(removed, r.FormID)
	}
	slices.Sort(removed)
	removed = slices.Compact(removed)

	for _, formID := range removed {
		unlock := a.lockForm(formID)
		a.data.DeleteFormRecord(formID)
		a.dropFormData(formID)
		unlock()
	}
	a.data.CleanHostRemovedForms(removed)
	a.logger.Info("provider removed", zap.String("bundle", bundleName), zap.Int("forms", len(removed)))
	return removed
}

func (a *Adapter) notifyBatchDelete(groups map[string][]int64) {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		bundleName, abilityName, _ := strings.Cut(key, "::")
		if err := a.providers.NotifyProviderFormsBatchDelete(bundleName, abilityName, groups[key]); err != nil {
			a.logger.Warn("batch delete notify", zap.String("provider", key), zap.Error(err))
		}
	}
}

// recordsByProvider groups records by provider key.
func recordsByProvider(records []*form.Record) map[string][]int64 {
	out := make(map[string][]int64)
	for _, r := range records {
		out[r.ProviderKey()] = append(out[r.ProviderKey()], r.FormID)
	}
	return out
}
