package formmgr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
)

// dumper renders key [value] lines.
type dumper struct {
	b strings.Builder
}

func (d *dumper) line(indent int, key string, value any) {
	fmt.Fprintf(&d.b, "%s%s [%v]\n", strings.Repeat("  ", indent), key, value)
}

func (d *dumper) String() string { return d.b.String() }

func (d *dumper) storage(info form.DBInfo) {
	d.line(0, "FormId", info.FormID)
	d.line(1, "formName", info.FormName)
	d.line(1, "bundleName", info.BundleName)
	d.line(1, "moduleName", info.ModuleName)
	d.line(1, "abilityName", info.AbilityName)
	d.line(1, "userId", info.UserID)
	d.line(1, "formUserUids", joinUIDs(info.UserUIDs))
}

func (d *dumper) record(r *form.Record, cached bool) {
	d.line(0, "FormId", r.FormID)
	d.line(1, "formName", r.Name)
	d.line(1, "bundleName", r.BundleName)
	d.line(1, "moduleName", r.ModuleName)
	d.line(1, "abilityName", r.AbilityName)
	d.line(1, "isInited", r.IsInited)
	d.line(1, "needRefresh", r.NeedRefresh)
	d.line(1, "isEnableUpdate", r.IsEnableUpdate)
	d.line(1, "isCountTimerRefresh", r.CountTimerRefresh)
	d.line(1, "specification", r.Dimension)
	d.line(1, "userId", r.UserID)
	d.line(1, "formTempFlg", r.Temp)
	d.line(1, "formVisibleNotify", r.FormVisibleNotify)
	d.line(1, "isVisible", r.IsVisible)
	d.line(1, "updateDuration", r.UpdateDuration)
	if r.UpdateAtHour >= 0 {
		d.line(1, "scheduledUpdateTime", fmt.Sprintf("%02d:%02d", r.UpdateAtHour, r.UpdateAtMin))
	}
	d.line(1, "formSrc", r.Src)
	d.line(1, "jsFormCodePath", r.JsFormCodePath)
	d.line(1, "formUserUids", joinUIDs(r.UserUIDs))
	d.line(1, "cached", cached)
}

func joinUIDs(uids []int32) string {
	parts := make([]string, len(uids))
	for i, uid := range uids {
		parts[i] = fmt.Sprint(uid)
	}
	return strings.Join(parts, ",")
}

// DumpStorageFormInfos renders every stored form.
func (a *Adapter) DumpStorageFormInfos() (string, error) {
	infos := a.db.GetAllFormInfo()
	if len(infos) == 0 {
		return "", errcode.New(errcode.NotExist, "DumpStorageFormInfos", "no stored forms")
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].FormID < infos[j].FormID })
	var d dumper
	for _, info := range infos {
		d.storage(info)
	}
	return d.String(), nil
}

// DumpFormInfoByBundleName renders the in-memory forms of a provider.
func (a *Adapter) DumpFormInfoByBundleName(bundleName string) (string, error) {
	records := a.data.GetFormRecordsByBundle(bundleName)
	if len(records) == 0 {
		return "", errcode.Newf(errcode.NotExist, "DumpFormInfoByBundleName", "no forms of %s", bundleName)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].FormID < records[j].FormID })
	var d dumper
	for _, r := range records {
		d.record(r, a.cache.IsExist(r.FormID))
	}
	return d.String(), nil
}

// DumpFormInfoByFormID renders one form with the hosts holding it.
func (a *Adapter) DumpFormInfoByFormID(formID int64) (string, error) {
	matched := a.data.FindMatchedFormID(formID)
	var d dumper
	found := false
	if r, ok := a.data.GetFormRecord(matched); ok {
		d.record(r, a.cache.IsExist(matched))
		found = true
	}
	for _, h := range a.data.GetFormHostRecords(matched) {
		d.line(1, "hostBundleName", h.HostBundle())
		d.line(1, "hostUid", h.CallerUID())
		found = true
	}
	if !found {
		return "", errcode.Newf(errcode.NotExist, "DumpFormInfoByFormId", "form %d", matched)
	}
	if timers := a.timers.Dump(matched); timers != "" {
		d.b.WriteString(timers)
	}
	return d.String(), nil
}

// DumpFormTimerByFormID reports whether the form has a refresh timer.
func (a *Adapter) DumpFormTimerByFormID(formID int64) string {
	matched := a.data.FindMatchedFormID(formID)
	_, ok := a.timers.GetTimer(matched)
	return fmt.Sprint(ok || a.timers.HasDynamicRefresh(matched))
}

// DumpCache renders the form data cache.
func (a *Adapter) DumpCache() string {
	return a.cache.Dump()
}
