package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/framework/internal/domain/form"
	"github.com/GriffinCanCode/AgentOS/framework/internal/ipc"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

// fakeForms overrides the calls a test needs; any other call panics.
type fakeForms struct {
	FormService

	callerUID int32
	addErr    error
	deleted   []int64
	message   string
	update    *form.ProviderData
}

func (f *fakeForms) AddForm(ctx context.Context, formID int64, want *types.Want, _ ipc.RemoteObject) (form.JsInfo, error) {
	f.callerUID = ipc.CallerFrom(ctx).UID
	if f.addErr != nil {
		return form.JsInfo{}, f.addErr
	}
	if formID == 0 {
		formID = 42
	}
	return form.JsInfo{FormID: formID, BundleName: want.Element.BundleName}, nil
}

func (f *fakeForms) DeleteForm(_ context.Context, formID int64, _ ipc.RemoteObject) error {
	f.deleted = append(f.deleted, formID)
	return nil
}

func (f *fakeForms) MessageEvent(_ context.Context, _ int64, want *types.Want, _ ipc.RemoteObject) error {
	f.message = want.StringParam(form.ParamMessage, "")
	return nil
}

func (f *fakeForms) UpdateForm(_ context.Context, _ int64, _ string, data *form.ProviderData) error {
	f.update = data
	return nil
}

func (f *fakeForms) DumpFormInfoByFormID(formID int64) (string, error) {
	return "", errcode.Newf(errcode.NotExist, "DumpFormInfoByFormId", "form %d", formID)
}

type fakeHosts map[id.ObjectID]ipc.RemoteObject

func (h fakeHosts) Lookup(hostID id.ObjectID) (ipc.RemoteObject, bool) {
	r, ok := h[hostID]
	return r, ok
}

type lines []string

func (l lines) DumpState() []string { return l }

func newRouter(forms *fakeForms) *gin.Engine {
	gin.SetMode(gin.TestMode)
	host := ipc.NewLocalObjectWithID("host_1", ipc.HandlerFunc(func(context.Context, uint32, *ipc.Parcel) (*ipc.Parcel, error) {
		return nil, nil
	}))
	h := NewHandlers(Options{
		Forms:     forms,
		Hosts:     fakeHosts{"host_1": host},
		Abilities: lines{"AbilityRecord ID #1", "  state #ACTIVE"},
	})
	router := gin.New()
	h.Register(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CallerHeader, "20020")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAddForm(t *testing.T) {
	forms := &fakeForms{}
	router := newRouter(forms)

	w := do(t, router, http.MethodPost, "/forms", gin.H{
		"host_id": "host_1",
		"want":    gin.H{"element": gin.H{"bundle_name": "com.example.weather", "ability_name": "WeatherForm"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool        `json:"success"`
		Form    form.JsInfo `json:"form"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(42), resp.Form.FormID)
	assert.Equal(t, "com.example.weather", resp.Form.BundleName)
	assert.Equal(t, int32(20020), forms.callerUID)
}

func TestAddFormErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		addErr error
		status int
	}{
		{"missing host", gin.H{"want": gin.H{}}, nil, http.StatusBadRequest},
		{"unknown host", gin.H{"host_id": "host_9"}, nil, http.StatusBadRequest},
		{"quota", gin.H{"host_id": "host_1"}, errcode.New(errcode.MaxSystemTempForms, "AddForm", "full"), http.StatusTooManyRequests},
		{"not owner", gin.H{"host_id": "host_1", "form_id": 7}, errcode.New(errcode.NotExist, "AllotFormById", "gone"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&fakeForms{addErr: tt.addErr})
			w := do(t, router, http.MethodPost, "/forms", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind   errcode.Kind
		status int
	}{
		{errcode.InvalidParam, http.StatusBadRequest},
		{errcode.CfgNotMatch, http.StatusBadRequest},
		{errcode.NotExist, http.StatusNotFound},
		{errcode.OperationNotSelf, http.StatusForbidden},
		{errcode.MaxRefresh, http.StatusTooManyRequests},
		{errcode.BindProviderFailed, http.StatusBadGateway},
		{errcode.TimedOut, http.StatusGatewayTimeout},
		{errcode.CommonCode, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(errcode.New(tt.kind, "op", "msg")))
		})
	}
	assert.Equal(t, http.StatusOK, StatusFor(nil))
}

func TestDeleteFormReadsHostFromQuery(t *testing.T) {
	forms := &fakeForms{}
	router := newRouter(forms)

	w := do(t, router, http.MethodDelete, "/forms/17?host_id=host_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{17}, forms.deleted)

	w = do(t, router, http.MethodDelete, "/forms/abc?host_id=host_1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageEventSetsMessageParam(t *testing.T) {
	forms := &fakeForms{}
	router := newRouter(forms)

	w := do(t, router, http.MethodPost, "/forms/17/message", gin.H{"host_id": "host_1", "message": "tap"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tap", forms.message)
}

func TestUpdateFormParsesProviderData(t *testing.T) {
	forms := &fakeForms{}
	router := newRouter(forms)

	w := do(t, router, http.MethodPost, "/forms/17/update", gin.H{"bundle_name": "com.example.weather", "data": `{"temp":"25"}`})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, forms.update)
	assert.JSONEq(t, `{"temp":"25"}`, forms.update.DataString())

	w = do(t, router, http.MethodPost, "/forms/17/update", gin.H{"bundle_name": "com.example.weather", "data": `not json`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDumps(t *testing.T) {
	router := newRouter(&fakeForms{})

	w := do(t, router, http.MethodGet, "/dump/abilities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AbilityRecord ID #1\n  state #ACTIVE\n", w.Body.String())

	w = do(t, router, http.MethodGet, "/dump/data-abilities", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(t, router, http.MethodGet, "/dump/forms/5", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
