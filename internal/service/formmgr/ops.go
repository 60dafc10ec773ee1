package formmgr

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/ability"
	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// UpdateForm lets a provider push new data for one of its own forms.
func (a *Adapter) UpdateForm(ctx context.Context, formID int64, bundleName string, data *form.ProviderData) (err error) {
	defer a.track("UpdateForm")(&err)
	const op = "UpdateForm"
	if formID <= 0 || bundleName == "" || data == nil {
		return errcode.New(errcode.InvalidParam, op, "form id, bundle and data are required")
	}
	if a.bundles == nil {
		return errcode.New(errcode.GetBmsFailed, op, "bundle manager unavailable")
	}
	uid, userID := caller(ctx)
	bundleUID, err := a.bundles.GetUIDByBundleName(bundleName, userID)
	if err != nil {
		return errcode.Wrap(errcode.GetBmsFailed, op, err)
	}
	if bundleUID != uid {
		return errcode.Newf(errcode.InvalidParam, op, "caller is not %s", bundleName)
	}

	matched := a.data.FindMatchedFormID(formID)
	unlock := a.lockForm(matched)
	defer unlock()

	r, ok := a.data.GetFormRecord(matched)
	if !ok {
		return errcode.Newf(errcode.NotExist, op, "form %d", matched)
	}
	if r.UserID != userID {
		return errcode.Newf(errcode.NotExist, op, "form %d belongs to another user", matched)
	}
	if r.BundleName != bundleName {
		return errcode.Newf(errcode.InvalidParam, op, "form %d is not provided by %s", matched, bundleName)
	}
	return a.providers.UpdateForm(matched, data)
}

// RequestForm asks the provider to refresh a form the host holds.
func (a *Adapter) RequestForm(ctx context.Context, formID int64, host ipc.RemoteObject, want *types.Want) (err error) {
	defer a.track("RequestForm")(&err)
	const op = "RequestForm"
	if formID <= 0 || host == nil {
		return errcode.New(errcode.InvalidParam, op, "form id and host are required")
	}
	matched := a.data.FindMatchedFormID(formID)
	if !a.data.ExistFormRecord(matched) {
		return errcode.Newf(errcode.NotExist, op, "form %d", matched)
	}
	h, ok := a.data.GetMatchedHostClient(host)
	if !ok {
		return errcode.New(errcode.InvalidParam, op, "unknown host")
	}
	if !h.Contains(matched) {
		return errcode.Newf(errcode.OperationNotSelf, op, "form %d is not held by the caller", matched)
	}
	_, userID := caller(ctx)
	w := want.Clone()
	w.SetParam(form.ParamFormUserID, userID)
	return a.providers.RefreshForm(matched, w, false)
}

// NotifyWhetherVisibleForms records visibility for the host's forms and
// tells system-app providers that asked for it, one call per provider.
func (a *Adapter) NotifyWhetherVisibleForms(ctx context.Context, formIDs []int64, host ipc.RemoteObject, visibleType int32) (err error) {
	defer a.track("NotifyWhetherVisibleForms")(&err)
	if host == nil {
		return errcode.New(errcode.InvalidParam, "NotifyWhetherVisibleForms", "host is required")
	}
	if a.bundles == nil {
		return errcode.New(errcode.GetBmsFailed, "NotifyWhetherVisibleForms", "bundle manager unavailable")
	}
	_, userID := caller(ctx)
	visible := visibleType == form.Visible

	events := make(map[string][]int64)
	providers := make(map[string]types.ElementName)
	var keys []string
	for _, formID := range formIDs {
		if formID <= 0 {
			continue
		}
		matched := a.data.FindMatchedFormID(formID)
		r, ok := a.updateProviderInfoToHost(matched, host, visible)
		if !ok || !a.isSystemApp(r.BundleName, userID) || !r.FormVisibleNotify {
			continue
		}
		key := r.ProviderKey()
		if _, seen := events[key]; !seen {
			keys = append(keys, key)
			providers[key] = types.ElementName{BundleName: r.BundleName, AbilityName: r.AbilityName}
		}
		events[key] = append(events[key], matched)
	}

	for _, key := range keys {
		p := providers[key]
		if err := a.providers.EventNotify(p.BundleName, p.AbilityName, events[key], visibleType); err != nil {
			a.logger.Warn("visibility event notify", zap.String("provider", key), zap.Error(err))
		}
	}
	return nil
}

func (a *Adapter) updateProviderInfoToHost(formID int64, host ipc.RemoteObject, visible bool) (*form.Record, bool) {
	unlock := a.lockForm(formID)
	defer unlock()
	r, ok := a.data.GetFormRecord(formID)
	if !ok {
		return nil, false
	}
	h, ok := a.ownedByHost(host, formID)
	if !ok {
		a.logger.Debug("visibility for form not held by host", zap.Int64("form_id", formID))
		return nil, false
	}
	a.data.SetVisible(formID, visible)
	r.IsVisible = visible
	if r.NeedRefresh && visible && a.data.IsFormCached(r) {
		h.OnUpdate(a.data.CreateFormJsInfo(formID, r))
	}
	return r, true
}

func (a *Adapter) isSystemApp(bundleName string, userID int32) bool {
	bi, err := a.bundles.GetBundleInfo(bundleName, userID)
	if err != nil {
		return false
	}
	return a.bundles.CheckIsSystemAppByUID(int32(bi.UID))
}

// CastTempForm turns a temp form held by host into a permanent one.
func (a *Adapter) CastTempForm(ctx context.Context, formID int64, host ipc.RemoteObject) (err error) {
	defer a.track("CastTempForm")(&err)
	const op = "CastTempForm"
	if formID <= 0 || host == nil {
		return errcode.New(errcode.InvalidParam, op, "form id and host are required")
	}
	matched := a.data.FindMatchedFormID(formID)
	unlock := a.lockForm(matched)
	defer unlock()

	if !a.data.ExistFormRecord(matched) || !a.data.ExistTempForm(matched) {
		return errcode.Newf(errcode.NotExist, op, "temp form %d", matched)
	}
	if _, ok := a.ownedByHost(host, matched); !ok {
		return errcode.Newf(errcode.OperationNotSelf, op, "form %d is not held by the caller", matched)
	}
	uid, _ := caller(ctx)
	if err := a.data.CheckEnoughForm(uid); err != nil {
		return err
	}
	r, ok := a.data.GetFormRecord(matched)
	if !ok {
		return errcode.Newf(errcode.NotExist, op, "form %d", matched)
	}
	if err := a.providers.NotifyCastTempForm(matched, r); err != nil {
		return err
	}

	if !a.data.DeleteTempForm(matched) || !a.data.ModifyFormTempFlag(matched, false) || !a.data.AddFormUserUID(matched, uid) {
		return errcode.Newf(errcode.NotExist, op, "form %d vanished while casting", matched)
	}
	r, _ = a.data.GetFormRecord(matched)
	if err := a.db.UpdateDBRecord(ctx, matched, r); err != nil {
		return err
	}
	if err := a.addFormTimer(r); err != nil {
		return err
	}
	a.logger.Info("temp form cast", zap.Int64("form_id", matched))
	return nil
}

// MessageEvent forwards a host message to the form's provider.
func (a *Adapter) MessageEvent(ctx context.Context, formID int64, want *types.Want, host ipc.RemoteObject) (err error) {
	defer a.track("MessageEvent")(&err)
	const op = "MessageEvent"
	if formID <= 0 || host == nil {
		return errcode.New(errcode.InvalidParam, op, "form id and host are required")
	}
	if !want.HasParam(form.ParamMessage) {
		return errcode.New(errcode.InvalidParam, op, "message is required")
	}
	matched := a.data.FindMatchedFormID(formID)
	r, ok := a.data.GetFormRecord(matched)
	if !ok {
		return errcode.Newf(errcode.NotExist, op, "form %d", matched)
	}
	h, ok := a.data.GetMatchedHostClient(host)
	if !ok {
		return errcode.New(errcode.CommonCode, op, "unknown host")
	}
	if !h.Contains(matched) {
		return errcode.Newf(errcode.OperationNotSelf, op, "form %d is not held by the caller", matched)
	}
	return a.providers.MessageEvent(matched, r, want)
}

// RouterEvent starts the ability a form click points at. Only system
// apps may route to another bundle; others are pinned to the provider.
func (a *Adapter) RouterEvent(ctx context.Context, formID int64, want *types.Want) (err error) {
	defer a.track("RouterEvent")(&err)
	const op = "RouterEvent"
	if formID <= 0 || want == nil {
		return errcode.New(errcode.InvalidParam, op, "form id and want are required")
	}
	matched := a.data.FindMatchedFormID(formID)
	r, ok := a.data.GetFormRecord(matched)
	if !ok {
		return errcode.Newf(errcode.NotExist, op, "form %d", matched)
	}
	if a.bundles == nil || a.abilities == nil {
		return errcode.New(errcode.GetBmsFailed, op, "ability routing unavailable")
	}
	uid, userID := caller(ctx)

	target := want.Clone()
	if target.Element.BundleName != r.BundleName && !a.isSystemApp(r.BundleName, userID) {
		a.logger.Warn("router event pinned to provider bundle",
			zap.Int64("form_id", matched),
			zap.String("requested", target.Element.BundleName))
		target.Element.BundleName = r.BundleName
	}
	info, app, err := a.bundles.GetAbilityInfo(target.Element)
	if err != nil {
		return errcode.Wrap(errcode.GetInfoFailed, op, err)
	}
	_, err = a.abilities.StartAbility(&ability.Request{
		Want:        target,
		AbilityInfo: *info,
		AppInfo:     *app,
		UID:         int32(app.UID),
		CallerUID:   uid,
	})
	return err
}

// EnableUpdateForm turns refresh back on for the host's forms and fetches
// the ones that went stale meanwhile.
func (a *Adapter) EnableUpdateForm(ctx context.Context, formIDs []int64, host ipc.RemoteObject) (err error) {
	defer a.track("EnableUpdateForm")(&err)
	return a.handleUpdateFormFlag(ctx, formIDs, host, true)
}

// DisableUpdateForm turns refresh off for the host's forms.
func (a *Adapter) DisableUpdateForm(ctx context.Context, formIDs []int64, host ipc.RemoteObject) (err error) {
	defer a.track("DisableUpdateForm")(&err)
	return a.handleUpdateFormFlag(ctx, formIDs, host, false)
}

func (a *Adapter) handleUpdateFormFlag(ctx context.Context, formIDs []int64, host ipc.RemoteObject, flag bool) error {
	if len(formIDs) == 0 || host == nil {
		return errcode.New(errcode.InvalidParam, "HandleUpdateFormFlag", "form ids and host are required")
	}
	refresh, err := a.data.UpdateHostFormFlag(formIDs, host, flag, false)
	if err != nil {
		return err
	}
	if !flag {
		return nil
	}
	_, userID := caller(ctx)
	for _, formID := range refresh {
		want := &types.Want{}
		want.SetParam(form.ParamFormUserID, userID)
		if err := a.providers.RefreshForm(formID, want, false); err != nil {
			a.logger.Warn("refresh after enable", zap.Int64("form_id", formID), zap.Error(err))
		}
	}
	return nil
}

// SetNextRefreshTime lets a system-app provider schedule one refresh of
// its own form nextTime seconds from now.
func (a *Adapter) SetNextRefreshTime(ctx context.Context, formID, nextTime int64) (err error) {
	defer a.track("SetNextRefreshTime")(&err)
	const op = "SetNextRefreshTime"
	if formID <= 0 {
		return errcode.New(errcode.InvalidParam, op, "form id must be positive")
	}
	if a.bundles == nil {
		return errcode.New(errcode.GetBmsFailed, op, "bundle manager unavailable")
	}
	uid, userID := caller(ctx)
	if !a.bundles.CheckIsSystemAppByUID(uid) {
		return errcode.Newf(errcode.CommonCode, op, "uid %d is not a system app", uid)
	}
	bundleName, err := a.bundles.GetBundleNameForUID(uid)
	if err != nil {
		return errcode.Wrap(errcode.GetBmsFailed, op, err)
	}

	matched := a.data.FindMatchedFormID(formID)
	unlock := a.lockForm(matched)
	defer unlock()
	r, ok := a.data.GetFormRecord(matched)
	if !ok {
		return errcode.Newf(errcode.NotExist, op, "form %d", matched)
	}
	if r.UserID != userID || r.BundleName != bundleName {
		return errcode.Newf(errcode.OperationNotSelf, op, "form %d is not provided by %s", matched, bundleName)
	}

	if a.timers.GetRefreshCount(matched) >= a.timers.Limit() {
		a.timers.MarkRemind(matched)
		return errcode.Newf(errcode.MaxRefresh, op, "form %d reached its refresh limit", matched)
	}
	return a.timers.SetNextRefreshTime(matched, time.Duration(nextTime)*time.Second, userID)
}

// AcquireFormState asks the provider named by want for the state of a
// form description. The answer reaches host through OnAcquireState; the
// immediate result is always the default state.
func (a *Adapter) AcquireFormState(ctx context.Context, want *types.Want, host ipc.RemoteObject) (state form.State, err error) {
	defer a.track("AcquireFormState")(&err)
	if host == nil || want == nil {
		return form.StateUnknown, errcode.New(errcode.InvalidParam, "AcquireFormState", "want and host are required")
	}
	uid, _ := caller(ctx)
	key, err := a.formStateProvider(want, uid)
	if err != nil {
		return form.StateUnknown, err
	}
	if err := a.data.CreateFormStateRecord(key, host, uid); err != nil {
		return form.StateUnknown, err
	}
	if err := a.providers.AcquireState(want.Element.BundleName, want.Element.AbilityName, want, key); err != nil {
		return form.StateUnknown, err
	}
	return form.StateDefault, nil
}

// formStateProvider checks want and builds the key the state answer is
// routed back by.
func (a *Adapter) formStateProvider(want *types.Want, uid int32) (string, error) {
	const op = "AcquireFormState"
	bundleName := want.Element.BundleName
	abilityName := want.Element.AbilityName
	moduleName := want.StringParam(form.ParamModuleName, "")
	formName := want.StringParam(form.ParamFormName, "")
	dimension := want.IntParam(form.ParamFormDimension, form.DefaultDimension)
	if bundleName == "" || abilityName == "" || moduleName == "" || formName == "" {
		return "", errcode.New(errcode.InvalidParam, op, "bundle, ability, module and form name are required")
	}
	if a.bundles == nil {
		return "", errcode.New(errcode.GetBmsFailed, op, "bundle manager unavailable")
	}
	infos, err := a.bundles.GetFormsInfoByModule(bundleName, moduleName)
	if err != nil {
		return "", errcode.Wrap(errcode.GetInfoFailed, op, err)
	}
	found := false
	for _, fi := range infos {
		if fi.AbilityName == abilityName && fi.Name == formName && form.IsDimensionValid(fi, dimension) {
			found = true
			break
		}
	}
	if !found {
		return "", errcode.Newf(errcode.InvalidParam, op, "no form %s/%s/%s", bundleName, moduleName, formName)
	}
	return strings.Join([]string{
		bundleName, abilityName, moduleName, formName,
		strconv.Itoa(dimension), strconv.Itoa(int(uid)),
	}, "::"), nil
}
