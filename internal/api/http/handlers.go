package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// CallerHeader carries the caller uid.
const CallerHeader = "X-Caller-UID"

// FormService is the form manager surface the API drives.
type FormService interface {
	AddForm(ctx context.Context, formID int64, want *types.Want, host ipc.RemoteObject) (form.JsInfo, error)
	DeleteForm(ctx context.Context, formID int64, host ipc.RemoteObject) error
	ReleaseForm(ctx context.Context, formID int64, host ipc.RemoteObject, delCache bool) error
	RequestForm(ctx context.Context, formID int64, host ipc.RemoteObject, want *types.Want) error
	CastTempForm(ctx context.Context, formID int64, host ipc.RemoteObject) error
	MessageEvent(ctx context.Context, formID int64, want *types.Want, host ipc.RemoteObject) error
	RouterEvent(ctx context.Context, formID int64, want *types.Want) error
	UpdateForm(ctx context.Context, formID int64, bundleName string, data *form.ProviderData) error
	SetNextRefreshTime(ctx context.Context, formID, nextTime int64) error
	NotifyWhetherVisibleForms(ctx context.Context, formIDs []int64, host ipc.RemoteObject, visibleType int32) error
	EnableUpdateForm(ctx context.Context, formIDs []int64, host ipc.RemoteObject) error
	DisableUpdateForm(ctx context.Context, formIDs []int64, host ipc.RemoteObject) error
	DeleteInvalidForms(ctx context.Context, formIDs []int64, host ipc.RemoteObject) (int, error)
	AcquireFormState(ctx context.Context, want *types.Want, host ipc.RemoteObject) (form.State, error)
	BatchAddFormRecords(ctx context.Context, want *types.Want) (int, error)
	ClearFormRecords()
	HandleHostRemoved(ctx context.Context, uid int32)
	HandleProviderRemoved(ctx context.Context, bundleName string) []int64
	DumpStorageFormInfos() (string, error)
	DumpFormInfoByBundleName(bundleName string) (string, error)
	DumpFormInfoByFormID(formID int64) (string, error)
	DumpFormTimerByFormID(formID int64) string
	DumpCache() string
}

// HostResolver finds a connected host by id.
type HostResolver interface {
	Lookup(hostID id.ObjectID) (ipc.RemoteObject, bool)
}

// StateDumper renders a manager's records line by line.
type StateDumper interface {
	DumpState() []string
}

// Options configures Handlers.
type Options struct {
	Forms         FormService
	Hosts         HostResolver
	Abilities     StateDumper
	DataAbilities StateDumper
	Logger        *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	forms         FormService
	hosts         HostResolver
	abilities     StateDumper
	dataAbilities StateDumper
	logger        *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handlers{
		forms:         opts.Forms,
		hosts:         opts.Hosts,
		abilities:     opts.Abilities,
		dataAbilities: opts.DataAbilities,
		logger:        opts.Logger,
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "ability framework",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch errcode.KindOf(err) {
	case errcode.OK:
		return http.StatusOK
	case errcode.InvalidParam, errcode.CfgNotMatch, errcode.NoSuchModule, errcode.NoSuchDimension:
		return http.StatusBadRequest
	case errcode.NotExist:
		return http.StatusNotFound
	case errcode.OperationNotSelf, errcode.PermissionDeny:
		return http.StatusForbidden
	case errcode.MaxRefresh, errcode.MaxSystemForms, errcode.MaxFormsPerClient, errcode.MaxSystemTempForms:
		return http.StatusTooManyRequests
	case errcode.InvalidState:
		return http.StatusConflict
	case errcode.TimedOut:
		return http.StatusGatewayTimeout
	case errcode.BindProviderFailed, errcode.GetBmsFailed, errcode.GetInfoFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    errcode.KindOf(err).String(),
	})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Invalid request: " + err.Error(),
	})
}

// callerContext attaches the X-Caller-UID identity to the request context.
func callerContext(c *gin.Context) context.Context {
	uid, _ := strconv.ParseInt(c.GetHeader(CallerHeader), 10, 32)
	return ipc.WithCaller(c.Request.Context(), ipc.Caller{UID: int32(uid)})
}

func (h *Handlers) host(hostID string) (ipc.RemoteObject, error) {
	if hostID == "" {
		return nil, errcode.New(errcode.InvalidParam, "ResolveHost", "host_id is required")
	}
	if h.hosts == nil {
		return nil, errcode.New(errcode.InvalidParam, "ResolveHost", "no host channel")
	}
	remote, ok := h.hosts.Lookup(id.ObjectID(hostID))
	if !ok {
		return nil, errcode.Newf(errcode.InvalidParam, "ResolveHost", "host %s is not connected", hostID)
	}
	return remote, nil
}

func formIDParam(c *gin.Context) (int64, error) {
	formID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errcode.Newf(errcode.InvalidParam, "ParseFormID", "bad form id %q", c.Param("id"))
	}
	return formID, nil
}

func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
