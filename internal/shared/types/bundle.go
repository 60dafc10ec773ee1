package types

// AbilityType is the component kind.
type AbilityType int

const (
	AbilityTypeUnknown AbilityType = iota
	AbilityTypePage
	AbilityTypeService
	AbilityTypeData
	AbilityTypeExtension
)

func (t AbilityType) String() string {
	switch t {
	case AbilityTypePage:
		return "PAGE"
	case AbilityTypeService:
		return "SERVICE"
	case AbilityTypeData:
		return "DATA"
	case AbilityTypeExtension:
		return "EXTENSION"
	default:
		return "UNKNOWN"
	}
}

// ParseAbilityType accepts the names produced by String, case-insensitively
// in catalogs.
func ParseAbilityType(s string) AbilityType {
	switch s {
	case "page", "PAGE":
		return AbilityTypePage
	case "service", "SERVICE":
		return AbilityTypeService
	case "data", "DATA":
		return AbilityTypeData
	case "extension", "EXTENSION":
		return AbilityTypeExtension
	default:
		return AbilityTypeUnknown
	}
}

// LaunchMode controls instance reuse.
type LaunchMode int

const (
	LaunchStandard LaunchMode = iota
	LaunchSingleton
	LaunchSingleTop
	LaunchSpecified
)

// AbilityInfo is the static description of one ability.
type AbilityInfo struct {
	Name            string      `json:"name" yaml:"name" toml:"name"`
	BundleName      string      `json:"bundle_name" yaml:"bundle_name" toml:"bundle_name"`
	ModuleName      string      `json:"module_name" yaml:"module_name" toml:"module_name"`
	ApplicationName string      `json:"application_name" yaml:"application_name" toml:"application_name"`
	Type            AbilityType `json:"type" yaml:"-" toml:"-"`
	TypeName        string      `json:"-" yaml:"type" toml:"type"`
	LaunchMode      LaunchMode  `json:"launch_mode" yaml:"launch_mode" toml:"launch_mode"`
	Process         string      `json:"process,omitempty" yaml:"process,omitempty" toml:"process,omitempty"`
	URI             string      `json:"uri,omitempty" yaml:"uri,omitempty" toml:"uri,omitempty"`
	Visible         bool        `json:"visible" yaml:"visible" toml:"visible"`
	IsLauncher      bool        `json:"is_launcher" yaml:"is_launcher" toml:"is_launcher"`
	FormEnabled     bool        `json:"form_enabled" yaml:"form_enabled" toml:"form_enabled"`
	IsStageBased    bool        `json:"is_stage_based" yaml:"is_stage_based" toml:"is_stage_based"`
	Address         string      `json:"address,omitempty" yaml:"address,omitempty" toml:"address,omitempty"`
}

// Element returns the element naming this ability.
func (a AbilityInfo) Element() ElementName {
	return ElementName{BundleName: a.BundleName, AbilityName: a.Name, ModuleName: a.ModuleName}
}

// ApplicationInfo is the static description of an application.
type ApplicationInfo struct {
	Name          string `json:"name" yaml:"name" toml:"name"`
	BundleName    string `json:"bundle_name" yaml:"bundle_name" toml:"bundle_name"`
	UID           int    `json:"uid" yaml:"uid" toml:"uid"`
	IsSystemApp   bool   `json:"is_system_app" yaml:"is_system_app" toml:"is_system_app"`
	IsLauncherApp bool   `json:"is_launcher_app" yaml:"is_launcher_app" toml:"is_launcher_app"`
	KeepAlive     bool   `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
	ApiCompatible int    `json:"api_compatible_version" yaml:"api_compatible_version" toml:"api_compatible_version"`
	ProcessName   string `json:"process,omitempty" yaml:"process,omitempty" toml:"process,omitempty"`
	VersionCode   int    `json:"version_code" yaml:"version_code" toml:"version_code"`
	VersionName   string `json:"version_name" yaml:"version_name" toml:"version_name"`
	CodePath      string `json:"code_path,omitempty" yaml:"code_path,omitempty" toml:"code_path,omitempty"`
}

// HapModuleInfo describes one installable module of a bundle.
type HapModuleInfo struct {
	ModuleName   string `json:"module_name" yaml:"module_name" toml:"module_name"`
	HapPath      string `json:"hap_path" yaml:"hap_path" toml:"hap_path"`
	IsModuleJSON bool   `json:"is_module_json" yaml:"is_module_json" toml:"is_module_json"`
	Removable    bool   `json:"removable" yaml:"removable" toml:"removable"`
	MainElement  string `json:"main_element,omitempty" yaml:"main_element,omitempty" toml:"main_element,omitempty"`
}

// BundleInfo aggregates the application, its abilities and modules.
type BundleInfo struct {
	Name              string          `json:"name" yaml:"name" toml:"name"`
	UID               int             `json:"uid" yaml:"uid" toml:"uid"`
	VersionCode       int             `json:"version_code" yaml:"version_code" toml:"version_code"`
	VersionName       string          `json:"version_name" yaml:"version_name" toml:"version_name"`
	CompatibleVersion int             `json:"compatible_version" yaml:"compatible_version" toml:"compatible_version"`
	Application       ApplicationInfo `json:"application" yaml:"application" toml:"application"`
	Abilities         []AbilityInfo   `json:"abilities" yaml:"abilities" toml:"abilities"`
	Modules           []HapModuleInfo `json:"modules" yaml:"modules" toml:"modules"`
	Forms             []FormInfo      `json:"forms" yaml:"forms" toml:"forms"`
}

// Module returns the named module.
func (b *BundleInfo) Module(name string) (HapModuleInfo, bool) {
	for _, m := range b.Modules {
		if m.ModuleName == name {
			return m, true
		}
	}
	return HapModuleInfo{}, false
}

// Ability returns the named ability.
func (b *BundleInfo) Ability(name string) (AbilityInfo, bool) {
	for _, a := range b.Abilities {
		if a.Name == name {
			return a, true
		}
	}
	return AbilityInfo{}, false
}

// FormInfo is the static form metadata declared by a provider module.
type FormInfo struct {
	Name                string            `json:"name" yaml:"name" toml:"name"`
	BundleName          string            `json:"bundle_name" yaml:"bundle_name" toml:"bundle_name"`
	ModuleName          string            `json:"module_name" yaml:"module_name" toml:"module_name"`
	AbilityName         string            `json:"ability_name" yaml:"ability_name" toml:"ability_name"`
	Description         string            `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	JsComponentName     string            `json:"js_component_name,omitempty" yaml:"js_component_name,omitempty" toml:"js_component_name,omitempty"`
	DefaultFlag         bool              `json:"default_flag" yaml:"default_flag" toml:"default_flag"`
	FormVisibleNotify   bool              `json:"form_visible_notify" yaml:"form_visible_notify" toml:"form_visible_notify"`
	UpdateEnabled       bool              `json:"update_enabled" yaml:"update_enabled" toml:"update_enabled"`
	UpdateDuration      int               `json:"update_duration" yaml:"update_duration" toml:"update_duration"`
	ScheduledUpdateTime string            `json:"scheduled_update_time,omitempty" yaml:"scheduled_update_time,omitempty" toml:"scheduled_update_time,omitempty"`
	DefaultDimension    int               `json:"default_dimension" yaml:"default_dimension" toml:"default_dimension"`
	SupportDimensions   []int             `json:"support_dimensions" yaml:"support_dimensions" toml:"support_dimensions"`
	Src                 string            `json:"src,omitempty" yaml:"src,omitempty" toml:"src,omitempty"`
	DesignWidth         int               `json:"design_width,omitempty" yaml:"design_width,omitempty" toml:"design_width,omitempty"`
	AutoDesignWidth     bool              `json:"auto_design_width,omitempty" yaml:"auto_design_width,omitempty" toml:"auto_design_width,omitempty"`
	CustomizeData       map[string]string `json:"customize_data,omitempty" yaml:"customize_data,omitempty" toml:"customize_data,omitempty"`
}
