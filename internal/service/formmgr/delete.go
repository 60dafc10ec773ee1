package formmgr

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

// DeleteForm removes the caller's ownership of a form. The last owner
// deletes the form everywhere and tells its provider.
func (a *Adapter) DeleteForm(ctx context.Context, formID int64, host ipc.RemoteObject) (err error) {
	defer a.track("DeleteForm")(&err)
	if formID <= 0 || host == nil {
		return errcode.New(errcode.InvalidParam, "DeleteForm", "form id and host are required")
	}
	matched := a.data.FindMatchedFormID(formID)
	unlock := a.lockForm(matched)
	defer unlock()

	if a.data.ExistTempForm(matched) {
		return a.handleDeleteTempForm(ctx, matched, host)
	}
	return a.handleDeleteForm(ctx, matched, host)
}

// ReleaseForm detaches a form from host. With delCache the caller also
// gives up its in-memory ownership; stored ownership is kept.
func (a *Adapter) ReleaseForm(ctx context.Context, formID int64, host ipc.RemoteObject, delCache bool) (err error) {
	defer a.track("ReleaseForm")(&err)
	if formID <= 0 || host == nil {
		return errcode.New(errcode.InvalidParam, "ReleaseForm", "form id and host are required")
	}
	matched := a.data.FindMatchedFormID(formID)
	unlock := a.lockForm(matched)
	defer unlock()

	if a.data.ExistTempForm(matched) {
		return a.handleDeleteTempForm(ctx, matched, host)
	}
	if delCache {
		if err := a.handleReleaseForm(ctx, matched, host); err != nil {
			return err
		}
	}
	a.data.DeleteHostRecord(host, matched)
	a.timers.RemoveFormTimer(matched)
	return nil
}

func (a *Adapter) handleReleaseForm(ctx context.Context, formID int64, host ipc.RemoteObject) error {
	const op = "HandleReleaseForm"
	if !a.data.ExistFormRecord(formID) {
		return errcode.Newf(errcode.NotExist, op, "form %d", formID)
	}
	if _, ok := a.ownedByHost(host, formID); !ok {
		return errcode.Newf(errcode.OperationNotSelf, op, "form %d is not held by the caller", formID)
	}
	uid, _ := caller(ctx)
	a.data.DeleteFormUserUID(formID, uid)
	if !a.data.HasFormUserUIDs(formID) {
		a.data.DeleteFormRecord(formID)
		a.dropFormData(formID)
	}
	return nil
}

func (a *Adapter) handleDeleteTempForm(ctx context.Context, formID int64, host ipc.RemoteObject) error {
	uid, userID := caller(ctx)
	r, ok := a.data.GetFormRecord(formID)
	if !ok || !r.Temp || r.UserID != userID || !r.HasUID(uid) {
		return errcode.Newf(errcode.OperationNotSelf, "HandleDeleteTempForm", "temp form %d is not the caller's", formID)
	}

	a.data.DeleteFormUserUID(formID, uid)
	if !a.data.HasFormUserUIDs(formID) {
		if err := a.providers.NotifyProviderFormDelete(formID, r); err != nil {
			a.data.AddFormUserUID(formID, uid)
			return err
		}
		a.data.DeleteTempForm(formID)
		a.data.DeleteFormRecord(formID)
		a.cache.DeleteData(formID)
	}
	a.data.DeleteHostRecord(host, formID)
	return nil
}

func (a *Adapter) handleDeleteForm(ctx context.Context, formID int64, host ipc.RemoteObject) error {
	uid, userID := caller(ctx)
	stored, err := a.db.GetDBRecord(formID)
	if err != nil {
		return errcode.Newf(errcode.NotExist, "HandleDeleteForm", "form %d", formID)
	}
	if stored.UserID != userID || !stored.HasUID(uid) {
		return errcode.Newf(errcode.OperationNotSelf, "HandleDeleteForm", "form %d is not the caller's", formID)
	}
	if err := a.handleDeleteFormCache(ctx, stored, uid, formID); err != nil {
		return err
	}
	a.data.DeleteHostRecord(host, formID)
	return nil
}

// handleDeleteFormCache drops uid from a stored form. The steps are not
// transactional: a failure leaves the earlier ones applied.
func (a *Adapter) handleDeleteFormCache(ctx context.Context, stored form.DBInfo, uid int32, formID int64) error {
	const op = "HandleDeleteFormCache"
	stored.UserUIDs = slices.DeleteFunc(slices.Clone(stored.UserUIDs), func(u int32) bool { return u == uid })

	if len(stored.UserUIDs) == 0 {
		owner := &form.Record{FormID: formID, BundleName: stored.BundleName, AbilityName: stored.AbilityName}
		if err := a.providers.NotifyProviderFormDelete(formID, owner); err != nil {
			return err
		}
		a.data.DeleteFormRecord(formID)
		if err := a.db.DeleteFormInfo(ctx, formID); err != nil {
			return err
		}
		if a.db.GetMatchCount(stored.BundleName, stored.ModuleName) == 0 {
			a.setModuleRemovable(stored.BundleName, stored.ModuleName, true)
		}
		a.dropFormData(formID)
		a.logger.Info("form deleted", zap.Int64("form_id", formID))
		return nil
	}

	if err := a.db.SaveFormInfo(ctx, stored); err != nil {
		return errcode.Wrap(errcode.CommonCode, op, err)
	}
	a.setModuleRemovable(stored.BundleName, stored.ModuleName, false)
	a.data.DeleteFormUserUID(formID, uid)
	return nil
}

func (a *Adapter) setModuleRemovable(bundleName, moduleName string, removable bool) {
	if a.bundles == nil {
		return
	}
	if err := a.bundles.SetModuleRemovable(bundleName, moduleName, removable); err != nil {
		a.logger.Warn("set module removable",
			zap.String("bundle", bundleName),
			zap.String("module", moduleName),
			zap.Bool("removable", removable),
			zap.Error(err))
	}
}

// DeleteInvalidForms deletes the caller's forms that are not listed in
// formIDs and returns how many were removed.
func (a *Adapter) DeleteInvalidForms(ctx context.Context, formIDs []int64, host ipc.RemoteObject) (removed int, err error) {
	defer a.track("DeleteInvalidForms")(&err)
	if host == nil {
		return 0, errcode.New(errcode.InvalidParam, "DeleteInvalidForms", "host is required")
	}
	valid := make(map[int64]struct{}, len(formIDs))
	for _, formID := range formIDs {
		valid[a.data.FindMatchedFormID(formID)] = struct{}{}
	}
	uid, userID := caller(ctx)

	for _, stored := range a.db.GetAllFormInfo() {
		if _, ok := valid[stored.FormID]; ok || stored.UserID != userID || !stored.HasUID(uid) {
			continue
		}
		unlock := a.lockForm(stored.FormID)
		err := a.handleDeleteFormCache(ctx, stored, uid, stored.FormID)
		a.data.DeleteHostRecord(host, stored.FormID)
		unlock()
		if err != nil {
			a.logger.Warn("delete invalid form", zap.Int64("form_id", stored.FormID), zap.Error(err))
			continue
		}
		removed++
	}
	for _, r := range a.data.AllRecords() {
		if _, ok := valid[r.FormID]; ok || !r.Temp || r.UserID != userID || !r.HasUID(uid) {
			continue
		}
		unlock := a.lockForm(r.FormID)
		err := a.handleDeleteTempForm(ctx, r.FormID, host)
		unlock()
		if err != nil {
			a.logger.Warn("delete invalid temp form", zap.Int64("form_id", r.FormID), zap.Error(err))
			continue
		}
		removed++
	}
	a.logger.Info("invalid forms deleted", zap.Int("count", removed))
	return removed, nil
}
