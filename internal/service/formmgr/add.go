package formmgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// AddForm binds a form to host. A zero formID creates a new form; a
// positive one selects a form the caller already owns.
func (a *Adapter) AddForm(ctx context.Context, formID int64, want *types.Want, host ipc.RemoteObject) (info form.JsInfo, err error) {
	defer a.track("AddForm")(&err)
	if formID < 0 || host == nil || want == nil {
		return info, errcode.New(errcode.InvalidParam, "AddForm", "form id, want and host are required")
	}
	uid, _ := caller(ctx)

	temp := want.BoolParam(form.ParamFormTemporary, false)
	switch {
	case temp && formID > 0:
		return info, errcode.New(errcode.InvalidParam, "AddForm", "temp forms cannot be selected by id")
	case temp:
		err = a.data.CheckTempEnoughForm()
	case formID == 0:
		err = a.data.CheckEnoughForm(uid)
	}
	if err != nil {
		return info, err
	}

	item, err := a.formConfigInfo(want, uid)
	if err != nil {
		return info, err
	}
	if !item.IsValid() {
		return info, errcode.New(errcode.GetInfoFailed, "AddForm", "incomplete form config")
	}

	if formID > 0 {
		return a.allotFormByID(ctx, formID, item, host, want)
	}
	return a.allotFormByInfo(ctx, item, host, want)
}

// formConfigInfo resolves the provider metadata named by want.
func (a *Adapter) formConfigInfo(want *types.Want, uid int32) (*form.ItemInfo, error) {
	const op = "GetFormConfigInfo"
	bundleName := want.Element.BundleName
	abilityName := want.Element.AbilityName
	moduleName := want.StringParam(form.ParamModuleName, "")
	if bundleName == "" || abilityName == "" || moduleName == "" {
		return nil, errcode.New(errcode.InvalidParam, op, "bundle, ability and module are required")
	}
	if a.bundles == nil {
		return nil, errcode.New(errcode.GetBmsFailed, op, "bundle manager unavailable")
	}

	bi, err := a.bundles.GetBundleInfo(bundleName, ipc.UserID(uid))
	if err != nil {
		return nil, errcode.Wrap(errcode.GetBmsFailed, op, err)
	}
	module, ok := bi.Module(moduleName)
	if !ok {
		return nil, errcode.Newf(errcode.NoSuchModule, op, "%s has no module %s", bundleName, moduleName)
	}
	if _, ok := bi.Ability(abilityName); !ok {
		return nil, errcode.Newf(errcode.GetInfoFailed, op, "%s has no ability %s", bundleName, abilityName)
	}

	infos, err := a.bundles.GetFormsInfoByModule(bundleName, moduleName)
	if err != nil {
		return nil, errcode.Wrap(errcode.GetInfoFailed, op, err)
	}
	fi, err := form.FindFormInfo(infos, want.StringParam(form.ParamFormName, ""))
	if err != nil {
		return nil, err
	}
	dimension := want.IntParam(form.ParamFormDimension, fi.DefaultDimension)
	if !form.IsDimensionValid(fi, dimension) {
		return nil, errcode.Newf(errcode.NoSuchDimension, op, "dimension %d not supported by %s", dimension, fi.Name)
	}

	hostBundle, err := a.bundles.GetBundleNameForUID(uid)
	if err != nil {
		return nil, errcode.Wrap(errcode.GetBmsFailed, op, err)
	}

	item := &form.ItemInfo{
		PackageName:         bundleName + moduleName,
		ProviderBundle:      bundleName,
		ModuleName:          moduleName,
		AbilityName:         abilityName,
		FormName:            fi.Name,
		HostBundle:          hostBundle,
		Dimension:           dimension,
		Temp:                want.BoolParam(form.ParamFormTemporary, false),
		FormVisibleNotify:   fi.FormVisibleNotify,
		EnableUpdate:        fi.UpdateEnabled,
		UpdateDuration:      fi.UpdateDuration,
		ScheduledUpdateTime: fi.ScheduledUpdateTime,
		JsComponentName:     fi.JsComponentName,
		Src:                 fi.Src,
		DesignWidth:         fi.DesignWidth,
		AutoDesignWidth:     fi.AutoDesignWidth,
	}
	for _, m := range bi.Modules {
		item.AddModuleInfo(m.ModuleName, m.HapPath)
	}
	item.AddHapSourceDir(module.HapPath)
	return item, nil
}

// acquireWant is the want handed to the provider on acquire.
func acquireWant(want *types.Want, userID int32) *types.Want {
	w := want.Clone()
	w.SetParam(form.ParamFormUserID, userID)
	return w
}

func (a *Adapter) allotFormByID(ctx context.Context, formID int64, item *form.ItemInfo, host ipc.RemoteObject, want *types.Want) (form.JsInfo, error) {
	const op = "AllotFormById"
	formID = a.data.IDs().Pad(formID)
	item.FormID = formID
	uid, userID := caller(ctx)

	unlock := a.lockForm(formID)
	defer unlock()

	if r, ok := a.data.GetFormRecord(formID); ok {
		if r.Temp {
			return form.JsInfo{}, errcode.Newf(errcode.CommonCode, op, "form %d is temporary", formID)
		}
		if r.UserID == userID || r.HasUID(uid) {
			if !item.IsMatch(r) {
				return form.JsInfo{}, errcode.Newf(errcode.CfgNotMatch, op, "form %d was created with another config", formID)
			}
			return a.addExistFormRecord(ctx, item, host, r, want)
		}
	}

	if stored, err := a.db.GetDBRecord(formID); err == nil && (stored.UserID == userID || stored.HasUID(uid)) {
		return a.addNewFormRecord(ctx, item, host, want, stored.UserUIDs...)
	}

	orphan := &form.Record{FormID: formID, BundleName: item.ProviderBundle, AbilityName: item.AbilityName}
	if err := a.providers.NotifyProviderFormDelete(formID, orphan); err != nil {
		a.logger.Warn("notify provider of orphan form", zap.Int64("form_id", formID), zap.Error(err))
	}
	return form.JsInfo{}, errcode.Newf(errcode.NotExist, op, "form %d", formID)
}

func (a *Adapter) allotFormByInfo(ctx context.Context, item *form.ItemInfo, host ipc.RemoteObject, want *types.Want) (form.JsInfo, error) {
	item.FormID = a.data.GenerateFormID()
	unlock := a.lockForm(item.FormID)
	defer unlock()
	return a.addNewFormRecord(ctx, item, host, want)
}

func (a *Adapter) addExistFormRecord(ctx context.Context, item *form.ItemInfo, host ipc.RemoteObject, r *form.Record, want *types.Want) (form.JsInfo, error) {
	uid, userID := caller(ctx)
	formID := item.FormID
	if _, err := a.data.AllotFormHostRecord(item, host, formID, uid); err != nil {
		return form.JsInfo{}, err
	}

	if r.NeedRefresh {
		a.data.SetFormCacheInited(formID, false)
		if err := a.providers.AcquireProviderFormInfo(formID, item, acquireWant(want, userID), true); err != nil {
			a.logger.Error("recreate form", zap.Int64("form_id", formID), zap.Error(err))
		}
	}

	a.data.AddFormUserUID(formID, uid)
	if current, ok := a.data.GetFormRecord(formID); ok {
		r = current
	}
	info := a.data.CreateFormJsInfo(formID, r)

	if err := a.addFormTimer(r); err != nil {
		return info, err
	}
	if !r.Temp {
		if err := a.db.UpdateDBRecord(ctx, formID, r); err != nil {
			return info, err
		}
	}
	a.logger.Debug("form added to host", zap.Int64("form_id", formID), zap.Int32("uid", uid))
	return info, nil
}

// addNewFormRecord creates the in-memory record. owners restores the uids
// of a form rehydrated from storage.
func (a *Adapter) addNewFormRecord(ctx context.Context, item *form.ItemInfo, host ipc.RemoteObject, want *types.Want, owners ...int32) (form.JsInfo, error) {
	uid, userID := caller(ctx)
	formID := item.FormID
	if _, err := a.data.AllotFormHostRecord(item, host, formID, uid); err != nil {
		return form.JsInfo{}, err
	}
	r := a.data.AllotFormRecord(item, uid, userID)
	for _, owner := range owners {
		if owner != uid {
			a.data.AddFormUserUID(formID, owner)
			r.AddUID(owner)
		}
	}
	info := a.data.CreateFormJsInfo(formID, r)

	if err := a.providers.AcquireProviderFormInfo(formID, item, acquireWant(want, userID), false); err != nil {
		a.logger.Error("acquire provider form info", zap.Int64("form_id", formID), zap.Error(err))
	}

	if !r.Temp {
		if err := a.db.UpdateDBRecord(ctx, formID, r); err != nil {
			return info, err
		}
	}
	if err := a.addFormTimer(r); err != nil {
		return info, err
	}
	a.logger.Info("form created",
		zap.Int64("form_id", formID),
		zap.String("provider", r.ProviderKey()),
		zap.Bool("temp", r.Temp))
	return info, nil
}

// BatchAddFormRecords creates ParamFormAddCount records for the form named
// by want without binding a host or a provider. It exists to exercise
// the form quotas.
func (a *Adapter) BatchAddFormRecords(ctx context.Context, want *types.Want) (count int, err error) {
	defer a.track("BatchAddFormRecords")(&err)
	if want == nil {
		return 0, errcode.New(errcode.InvalidParam, "BatchAddFormRecords", "want is required")
	}
	uid, userID := caller(ctx)
	total := want.IntParam(ParamFormAddCount, 0)
	for count < total {
		item, err := a.formConfigInfo(want, uid)
		if err != nil {
			return count, err
		}
		if !item.IsValid() {
			return count, errcode.New(errcode.GetInfoFailed, "BatchAddFormRecords", "incomplete form config")
		}
		item.FormID = a.data.GenerateFormID()
		a.data.AllotFormRecord(item, uid, userID)
		count++
	}
	a.logger.Info("batch added form records", zap.Int("count", count))
	return count, nil
}

// ClearFormRecords drops every in-memory record along with its cached data.
func (a *Adapter) ClearFormRecords() {
	for _, formID := range a.data.ClearFormRecords() {
		a.cache.DeleteData(formID)
	}
	a.metrics.SetFormRecords(0)
	a.metrics.SetFormsCached(a.cache.Len())
}
