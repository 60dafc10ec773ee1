package form

import (
	"fmt"
	"slices"
	"time"

	"github.com/bytedance/sonic"
)

// Want parameter keys understood by the form service.
const (
	ParamFormIdentity  = "ohos.extra.param.key.form_identity"
	ParamModuleName    = "ohos.extra.param.key.module_name"
	ParamFormName      = "ohos.extra.param.key.form_name"
	ParamFormDimension = "ohos.extra.param.key.form_dimension"
	ParamFormTemporary = "ohos.extra.param.key.form_temporary"
	ParamFormUserID    = "ohos.extra.param.key.form_user_id"
	ParamFormIsTimer   = "ohos.extra.param.key.form_is_timer"
	ParamMessage       = "ohos.extra.param.key.message"
	ParamConnectID     = "ohos.extra.param.form.connect_id"
	ParamProviderKey   = "ohos.extra.param.form.provider_key"
	ParamAcquireType   = "ohos.extra.param.form.acquire_type"
	ParamHostBundle    = "ohos.extra.param.form.host_bundle"
	ParamFormCustomize = "ohos.extra.param.form.customize"
)

// Acquire types sent to the provider with an acquire request.
const (
	AcquireTypeCreate   = 1
	AcquireTypeRecreate = 2
)

// Visibility values for EventNotify.
const (
	Visible   = 1
	Invisible = 2
)

// Refresh period bounds. Provider update durations are expressed in
// multiples of the minimum period.
const (
	MinPeriod         = 30 * time.Minute
	MaxPeriod         = 72 * time.Hour
	MaxConfigDuration = 144
	DefaultDimension  = 1
)

// State is the state reported by AcquireFormState.
type State int

const (
	StateUnknown State = iota - 1
	StateDefault
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "DEFAULT"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// Record is the in-memory form record.
type Record struct {
	FormID      int64  `json:"form_id"`
	Name        string `json:"form_name"`
	BundleName  string `json:"bundle_name"`
	ModuleName  string `json:"module_name"`
	AbilityName string `json:"ability_name"`
	PackageName string `json:"package_name"`
	Dimension   int    `json:"dimension"`

	Temp              bool `json:"temp"`
	FormVisibleNotify bool `json:"form_visible_notify"`
	IsInited          bool `json:"is_inited"`
	NeedRefresh       bool `json:"need_refresh"`
	IsEnableUpdate    bool `json:"is_enable_update"`
	CountTimerRefresh bool `json:"count_timer_refresh"`
	IsVisible         bool `json:"is_visible"`

	UpdateDuration time.Duration `json:"update_duration"`
	UpdateAtHour   int           `json:"update_at_hour"`
	UpdateAtMin    int           `json:"update_at_min"`

	Data           string   `json:"data,omitempty"`
	HapSourceDirs  []string `json:"hap_source_dirs,omitempty"`
	JsFormCodePath string   `json:"js_form_code_path,omitempty"`
	Src            string   `json:"src,omitempty"`
	DesignWidth    int      `json:"design_width,omitempty"`
	AutoDesign     bool     `json:"auto_design_width,omitempty"`

	UserID   int32   `json:"user_id"`
	UserUIDs []int32 `json:"user_uids"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.UserUIDs = slices.Clone(r.UserUIDs)
	c.HapSourceDirs = slices.Clone(r.HapSourceDirs)
	return &c
}

// HasUID reports whether uid owns the record.
func (r *Record) HasUID(uid int32) bool {
	return slices.Contains(r.UserUIDs, uid)
}

// AddUID appends uid unless it is present.
func (r *Record) AddUID(uid int32) {
	if !r.HasUID(uid) {
		r.UserUIDs = append(r.UserUIDs, uid)
	}
}

// RemoveUID removes every occurrence of uid.
func (r *Record) RemoveUID(uid int32) {
	r.UserUIDs = slices.DeleteFunc(r.UserUIDs, func(u int32) bool { return u == uid })
}

// ProviderKey groups forms by provider ability.
func (r *Record) ProviderKey() string {
	return r.BundleName + "::" + r.AbilityName
}

// DBInfo returns the persisted projection of the record.
func (r *Record) DBInfo() DBInfo {
	return DBInfo{
		FormID:      r.FormID,
		UserID:      r.UserID,
		FormName:    r.Name,
		BundleName:  r.BundleName,
		ModuleName:  r.ModuleName,
		AbilityName: r.AbilityName,
		UserUIDs:    slices.Clone(r.UserUIDs),
	}
}

// ItemInfo is the resolved configuration of a form request.
type ItemInfo struct {
	FormID         int64
	PackageName    string
	ProviderBundle string
	ModuleName     string
	AbilityName    string
	FormName       string
	HostBundle     string
	Dimension      int
	Temp           bool

	FormVisibleNotify   bool
	EnableUpdate        bool
	UpdateDuration      int
	ScheduledUpdateTime string

	JsComponentName string
	Src             string
	DesignWidth     int
	AutoDesignWidth bool

	// ModuleInfo maps module names to hap paths.
	ModuleInfo    map[string]string
	HapSourceDirs []string
}

// IsValid reports whether the names needed to reach the provider are set.
func (i *ItemInfo) IsValid() bool {
	return i.ProviderBundle != "" && i.ModuleName != "" && i.AbilityName != "" && i.FormName != ""
}

// IsMatch reports whether r was created with the same config.
func (i *ItemInfo) IsMatch(r *Record) bool {
	return r.BundleName == i.ProviderBundle &&
		r.ModuleName == i.ModuleName &&
		r.AbilityName == i.AbilityName &&
		r.Name == i.FormName &&
		r.Dimension == i.Dimension
}

// AddModuleInfo records the hap path of a module.
func (i *ItemInfo) AddModuleInfo(module, hapPath string) {
	if i.ModuleInfo == nil {
		i.ModuleInfo = make(map[string]string)
	}
	i.ModuleInfo[module] = hapPath
}

// AddHapSourceDir records a source dir once.
func (i *ItemInfo) AddHapSourceDir(dir string) {
	if dir != "" && !slices.Contains(i.HapSourceDirs, dir) {
		i.HapSourceDirs = append(i.HapSourceDirs, dir)
	}
}

// JsInfo is what a host receives for a form.
type JsInfo struct {
	FormID          int64             `json:"form_id"`
	FormName        string            `json:"form_name"`
	BundleName      string            `json:"bundle_name"`
	AbilityName     string            `json:"ability_name"`
	ModuleName      string            `json:"module_name"`
	JsFormCodePath  string            `json:"js_form_code_path,omitempty"`
	FormTemp        bool              `json:"form_temp"`
	FormSrc         string            `json:"form_src,omitempty"`
	DesignWidth     int               `json:"design_width,omitempty"`
	AutoDesignWidth bool              `json:"auto_design_width,omitempty"`
	FormData        string            `json:"form_data"`
	ImageData       map[string][]byte `json:"image_data,omitempty"`
}

// NewJsInfo fills a JsInfo from r. Data comes from the cache separately.
func NewJsInfo(r *Record) JsInfo {
	return JsInfo{
		FormID:          r.FormID,
		FormName:        r.Name,
		BundleName:      r.BundleName,
		AbilityName:     r.AbilityName,
		ModuleName:      r.ModuleName,
		JsFormCodePath:  r.JsFormCodePath,
		FormTemp:        r.Temp,
		FormSrc:         r.Src,
		DesignWidth:     r.DesignWidth,
		AutoDesignWidth: r.AutoDesign,
		FormData:        r.Data,
	}
}

// DBInfo is the persisted part of a non-temp form.
type DBInfo struct {
	FormID      int64   `json:"form_id"`
	UserID      int32   `json:"user_id"`
	FormName    string  `json:"form_name"`
	BundleName  string  `json:"bundle_name"`
	ModuleName  string  `json:"module_name"`
	AbilityName string  `json:"ability_name"`
	UserUIDs    []int32 `json:"user_uids"`
}

// HasUID reports whether uid owns the stored form.
func (d DBInfo) HasUID(uid int32) bool {
	return slices.Contains(d.UserUIDs, uid)
}

// ProviderData is the JSON payload a provider pushes for a form plus any
// named image blobs.
type ProviderData struct {
	data   map[string]any
	images map[string][]byte
}

// NewProviderData parses a JSON object. An empty string yields empty data.
func NewProviderData(jsonData string) (*ProviderData, error) {
	d := &ProviderData{data: make(map[string]any), images: make(map[string][]byte)}
	if jsonData == "" {
		return d, nil
	}
	if err := sonic.UnmarshalString(jsonData, &d.data); err != nil {
		return nil, fmt.Errorf("parse provider data: %w", err)
	}
	if d.data == nil {
		d.data = make(map[string]any)
	}
	return d, nil
}

// DataString renders the payload as JSON, or "" when empty.
func (d *ProviderData) DataString() string {
	if d == nil || len(d.data) == 0 {
		return ""
	}
	s, err := sonic.MarshalString(d.data)
	if err != nil {
		return ""
	}
	return s
}

// Data returns the decoded payload.
func (d *ProviderData) Data() map[string]any {
	return d.data
}

// Merge overlays other's keys onto d.
func (d *ProviderData) Merge(other map[string]any) {
	for k, v := range other {
		d.data[k] = v
	}
}

// AddImage stores a named image, replacing any previous blob.
func (d *ProviderData) AddImage(name string, blob []byte) {
	if name == "" || len(blob) == 0 {
		return
	}
	d.images[name] = blob
}

// RemoveImage drops a named image.
func (d *ProviderData) RemoveImage(name string) {
	delete(d.images, name)
}

// Images returns the image map.
func (d *ProviderData) Images() map[string][]byte {
	return d.images
}
