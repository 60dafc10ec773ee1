package types

import (
	"fmt"
	"maps"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Want flags.
const (
	FlagAuthReadURIPermission  = 0x00000001
	FlagAuthWriteURIPermission = 0x00000002
	FlagAbilityContinuation    = 0x00000008
	FlagAbilityFormEnabled     = 0x00000020
)

// ElementName names one ability inside a bundle.
type ElementName struct {
	DeviceID    string `json:"device_id,omitempty" yaml:"device_id,omitempty" toml:"device_id,omitempty"`
	BundleName  string `json:"bundle_name" yaml:"bundle_name" toml:"bundle_name"`
	AbilityName string `json:"ability_name" yaml:"ability_name" toml:"ability_name"`
	ModuleName  string `json:"module_name,omitempty" yaml:"module_name,omitempty" toml:"module_name,omitempty"`
}

// URI renders the element as device/bundle/ability.
func (e ElementName) URI() string {
	return e.DeviceID + "/" + e.BundleName + "/" + e.AbilityName
}

// Key is the bundle.ability lookup key.
func (e ElementName) Key() string {
	return e.BundleName + "." + e.AbilityName
}

// IsEmpty reports whether no bundle or ability is set.
func (e ElementName) IsEmpty() bool {
	return e.BundleName == "" && e.AbilityName == ""
}

// Want is a launch intent: a target element plus parameters.
type Want struct {
	Element  ElementName    `json:"element"`
	Action   string         `json:"action,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Flags    int            `json:"flags,omitempty"`
	Entities []string       `json:"entities,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// NewWant builds a want targeting bundle/ability.
func NewWant(bundle, ability string) *Want {
	return &Want{Element: ElementName{BundleName: bundle, AbilityName: ability}}
}

// Clone returns a deep enough copy that params can be mutated independently.
func (w *Want) Clone() *Want {
	if w == nil {
		return &Want{}
	}
	c := *w
	c.Entities = append([]string(nil), w.Entities...)
	c.Params = maps.Clone(w.Params)
	return &c
}

// SetParam sets a parameter and returns the want for chaining.
func (w *Want) SetParam(key string, value any) *Want {
	if w.Params == nil {
		w.Params = make(map[string]any)
	}
	w.Params[key] = value
	return w
}

// HasParam reports whether key is set.
func (w *Want) HasParam(key string) bool {
	if w == nil || w.Params == nil {
		return false
	}
	_, ok := w.Params[key]
	return ok
}

// RemoveParam deletes key.
func (w *Want) RemoveParam(key string) {
	if w != nil && w.Params != nil {
		delete(w.Params, key)
	}
}

// StringParam returns a string parameter or def.
func (w *Want) StringParam(key, def string) string {
	if !w.HasParam(key) {
		return def
	}
	switch v := w.Params[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return def
	}
}

// Int64Param returns an integer parameter or def. Numbers decoded from a
// parcel arrive as float64 or numeric strings; both are accepted.
func (w *Want) Int64Param(key string, def int64) int64 {
	if !w.HasParam(key) {
		return def
	}
	switch v := w.Params[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// IntParam returns an int parameter or def.
func (w *Want) IntParam(key string, def int) int {
	return int(w.Int64Param(key, int64(def)))
}

// BoolParam returns a bool parameter or def.
func (w *Want) BoolParam(key string, def bool) bool {
	if !w.HasParam(key) {
		return def
	}
	switch v := w.Params[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// HasFlag reports whether every bit of flag is set.
func (w *Want) HasFlag(flag int) bool {
	return w != nil && w.Flags&flag == flag
}

// ToURI renders the want for dumps. Parameter order is stable.
func (w *Want) ToURI() string {
	if w == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("#Intent;")
	if w.Action != "" {
		b.WriteString("action=" + url.QueryEscape(w.Action) + ";")
	}
	if w.URI != "" {
		b.WriteString("uri=" + url.QueryEscape(w.URI) + ";")
	}
	if !w.Element.IsEmpty() {
		b.WriteString("component=" + w.Element.URI() + ";")
	}
	if w.Flags != 0 {
		b.WriteString("flag=" + strconv.Itoa(w.Flags) + ";")
	}
	keys := make([]string, 0, len(w.Params))
	for k := range w.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("param.%s=%v;", k, w.Params[k]))
	}
	b.WriteString("end")
	return b.String()
}
