package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

type addFormRequest struct {
	FormID int64      `json:"form_id"`
	HostID string     `json:"host_id" binding:"required"`
	Want   types.Want `json:"want"`
}

type hostRequest struct {
	HostID string `json:"host_id" binding:"required"`
}

type releaseRequest struct {
	HostID      string `json:"host_id" binding:"required"`
	DeleteCache bool   `json:"delete_cache"`
}

type wantRequest struct {
	HostID string     `json:"host_id"`
	Want   types.Want `json:"want"`
}

type messageRequest struct {
	HostID  string         `json:"host_id" binding:"required"`
	Message string         `json:"message" binding:"required"`
	Params  map[string]any `json:"params"`
}

type updateRequest struct {
	BundleName string `json:"bundle_name" binding:"required"`
	Data       string `json:"data"`
}

type nextRefreshRequest struct {
	NextTime int64 `json:"next_time" binding:"required"`
}

type formIDsRequest struct {
	HostID      string  `json:"host_id" binding:"required"`
	FormIDs     []int64 `json:"form_ids"`
	VisibleType int32   `json:"visible_type"`
}

// bindHost binds the body into req and resolves its host.
func (h *Handlers) bindHost(c *gin.Context, req any, hostID func() string) (ipc.RemoteObject, bool) {
	if err := c.ShouldBindJSON(req); err != nil {
		h.badRequest(c, err)
		return nil, false
	}
	remote, err := h.host(hostID())
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return remote, true
}

// AddForm binds a new or existing form to a host
func (h *Handlers) AddForm(c *gin.Context) {
	var req addFormRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	info, err := h.forms.AddForm(callerContext(c), req.FormID, &req.Want, remote)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"form": info})
}

// DeleteForm removes the caller's ownership of a form
func (h *Handlers) DeleteForm(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	remote, err := h.host(c.Query("host_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.forms.DeleteForm(callerContext(c), formID, remote); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// ReleaseForm detaches a form from its host
func (h *Handlers) ReleaseForm(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req releaseRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	if err := h.forms.ReleaseForm(callerContext(c), formID, remote, req.DeleteCache); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// RequestForm asks the provider for fresh data
func (h *Handlers) RequestForm(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req wantRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	if err := h.forms.RequestForm(callerContext(c), formID, remote, &req.Want); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// CastTempForm promotes a temp form
func (h *Handlers) CastTempForm(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req hostRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	if err := h.forms.CastTempForm(callerContext(c), formID, remote); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// MessageEvent forwards a host message to the provider
func (h *Handlers) MessageEvent(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req messageRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	want := &types.Want{Params: req.Params}
	want.SetParam(form.ParamMessage, req.Message)
	if err := h.forms.MessageEvent(callerContext(c), formID, want, remote); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// RouterEvent starts the ability a form click points at
func (h *Handlers) RouterEvent(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req wantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.forms.RouterEvent(callerContext(c), formID, &req.Want); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// UpdateForm pushes provider data into a form
func (h *Handlers) UpdateForm(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	data, err := form.NewProviderData(req.Data)
	if err != nil {
		h.fail(c, errcode.Wrap(errcode.InvalidParam, "UpdateForm", err))
		return
	}
	if err := h.forms.UpdateForm(callerContext(c), formID, req.BundleName, data); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// SetNextRefreshTime schedules a one-shot provider refresh
func (h *Handlers) SetNextRefreshTime(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req nextRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.forms.SetNextRefreshTime(callerContext(c), formID, req.NextTime); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// NotifyVisibility records visibility for a host's forms
func (h *Handlers) NotifyVisibility(c *gin.Context) {
	var req formIDsRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	if err := h.forms.NotifyWhetherVisibleForms(callerContext(c), req.FormIDs, remote, req.VisibleType); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// EnableUpdate turns refresh on for a host's forms
func (h *Handlers) EnableUpdate(c *gin.Context) {
	h.updateFlag(c, true)
}

// DisableUpdate turns refresh off for a host's forms
func (h *Handlers) DisableUpdate(c *gin.Context) {
	h.updateFlag(c, false)
}

func (h *Handlers) updateFlag(c *gin.Context, enable bool) {
	var req formIDsRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	var err error
	if enable {
		err = h.forms.EnableUpdateForm(callerContext(c), req.FormIDs, remote)
	} else {
		err = h.forms.DisableUpdateForm(callerContext(c), req.FormIDs, remote)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// DeleteInvalidForms deletes the caller's forms not listed in form_ids
func (h *Handlers) DeleteInvalidForms(c *gin.Context) {
	var req formIDsRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	removed, err := h.forms.DeleteInvalidForms(callerContext(c), req.FormIDs, remote)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"removed": removed})
}

// AcquireFormState asks a provider for a form description's state
func (h *Handlers) AcquireFormState(c *gin.Context) {
	var req wantRequest
	remote, bound := h.bindHost(c, &req, func() string { return req.HostID })
	if !bound {
		return
	}
	state, err := h.forms.AcquireFormState(callerContext(c), &req.Want, remote)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"state": state.String()})
}

// BatchAddForms creates form records without hosts
func (h *Handlers) BatchAddForms(c *gin.Context) {
	var req wantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	count, err := h.forms.BatchAddFormRecords(callerContext(c), &req.Want)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": count})
}

// ClearFormRecords drops every in-memory form record
func (h *Handlers) ClearFormRecords(c *gin.Context) {
	h.forms.ClearFormRecords()
	ok(c, nil)
}

// HostRemoved handles an uninstalled host application
func (h *Handlers) HostRemoved(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 32)
	if err != nil {
		h.fail(c, errcode.Newf(errcode.InvalidParam, "HostRemoved", "bad uid %q", c.Param("uid")))
		return
	}
	h.forms.HandleHostRemoved(c.Request.Context(), int32(uid))
	ok(c, nil)
}

// ProviderRemoved handles an uninstalled provider bundle
func (h *Handlers) ProviderRemoved(c *gin.Context) {
	removed := h.forms.HandleProviderRemoved(c.Request.Context(), c.Param("bundle"))
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"form_ids": removed,
	})
}
