package ipc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/errcode"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/types"
)

var (
	ErrDescriptorMismatch = errors.New("interface descriptor mismatch")
	ErrParcelUnderflow    = errors.New("parcel underflow")
	ErrParcelType         = errors.New("parcel value has unexpected type")
)

// Parcel is a sequential message body.
type Parcel struct {
	values []*structpb.Value
	pos    int
}

// NewParcel returns an empty parcel.
func NewParcel() *Parcel {
	return &Parcel{}
}

// Unmarshal decodes wire bytes into a parcel positioned at the start.
func Unmarshal(b []byte) (*Parcel, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("decode parcel: %w", err)
	}
	return FromList(&list), nil
}

// FromList wraps a decoded list value.
func FromList(list *structpb.ListValue) *Parcel {
	if list == nil {
		return NewParcel()
	}
	return &Parcel{values: list.GetValues()}
}

// List exposes the parcel as a list value for embedding.
func (p *Parcel) List() *structpb.ListValue {
	return &structpb.ListValue{Values: p.values}
}

// Marshal encodes the parcel.
func (p *Parcel) Marshal() ([]byte, error) {
	return proto.Marshal(p.List())
}

// Len returns the number of values written.
func (p *Parcel) Len() int {
	return len(p.values)
}

// Rewind moves the read position back to the start.
func (p *Parcel) Rewind() {
	p.pos = 0
}

// WriteInterfaceToken writes the descriptor that must lead every request.
func (p *Parcel) WriteInterfaceToken(descriptor string) {
	p.WriteString(descriptor)
}

// EnforceInterface reads the leading descriptor and rejects a mismatch.
func (p *Parcel) EnforceInterface(descriptor string) error {
	got, err := p.ReadString()
	if err != nil {
		return errcode.Wrap(errcode.InvalidState, "EnforceInterface", err)
	}
	if got != descriptor {
		return errcode.Wrap(errcode.InvalidState, "EnforceInterface",
			fmt.Errorf("%w: got %q, want %q", ErrDescriptorMismatch, got, descriptor))
	}
	return nil
}

func (p *Parcel) next() (*structpb.Value, error) {
	if p.pos >= len(p.values) {
		return nil, ErrParcelUnderflow
	}
	v := p.values[p.pos]
	p.pos++
	return v, nil
}

// WriteString appends a string.
func (p *Parcel) WriteString(s string) {
	p.values = append(p.values, structpb.NewStringValue(s))
}

// ReadString reads a string.
func (p *Parcel) ReadString() (string, error) {
	v, err := p.next()
	if err != nil {
		return "", err
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: want string", ErrParcelType)
	}
	return s.StringValue, nil
}

// WriteInt32 appends a 32-bit integer.
func (p *Parcel) WriteInt32(n int32) {
	p.values = append(p.values, structpb.NewNumberValue(float64(n)))
}

// ReadInt32 reads a 32-bit integer.
func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.next()
	if err != nil {
		return 0, err
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: want number", ErrParcelType)
	}
	return int32(n.NumberValue), nil
}

// WriteInt64 appends a 64-bit integer. It travels as a decimal string
// because form ids use all 64 bits.
func (p *Parcel) WriteInt64(n int64) {
	p.WriteString(strconv.FormatInt(n, 10))
}

// ReadInt64 reads a 64-bit integer.
func (p *Parcel) ReadInt64() (int64, error) {
	s, err := p.ReadString()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrParcelType, err)
	}
	return n, nil
}

// WriteBool appends a bool.
func (p *Parcel) WriteBool(b bool) {
	p.values = append(p.values, structpb.NewBoolValue(b))
}

// ReadBool reads a bool.
func (p *Parcel) ReadBool() (bool, error) {
	v, err := p.next()
	if err != nil {
		return false, err
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: want bool", ErrParcelType)
	}
	return b.BoolValue, nil
}

// WriteBytes appends a blob.
func (p *Parcel) WriteBytes(b []byte) {
	p.WriteString(base64.StdEncoding.EncodeToString(b))
}

// ReadBytes reads a blob.
func (p *Parcel) ReadBytes() ([]byte, error) {
	s, err := p.ReadString()
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}

// WriteStringList appends a list of strings.
func (p *Parcel) WriteStringList(items []string) {
	vals := make([]*structpb.Value, 0, len(items))
	for _, s := range items {
		vals = append(vals, structpb.NewStringValue(s))
	}
	p.values = append(p.values, structpb.NewListValue(&structpb.ListValue{Values: vals}))
}

// ReadStringList reads a list of strings.
func (p *Parcel) ReadStringList() ([]string, error) {
	list, err := p.readList()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: want string element", ErrParcelType)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

// WriteInt64List appends a list of 64-bit integers.
func (p *Parcel) WriteInt64List(items []int64) {
	strs := make([]string, 0, len(items))
	for _, n := range items {
		strs = append(strs, strconv.FormatInt(n, 10))
	}
	p.WriteStringList(strs)
}

// ReadInt64List reads a list of 64-bit integers.
func (p *Parcel) ReadInt64List() ([]int64, error) {
	strs, err := p.ReadStringList()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(strs))
	for _, s := range strs {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParcelType, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (p *Parcel) readList() ([]*structpb.Value, error) {
	v, err := p.next()
	if err != nil {
		return nil, err
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: want list", ErrParcelType)
	}
	return l.ListValue.GetValues(), nil
}

// WriteMap appends a string-keyed map. Integers are carried as decimal
// strings.
func (p *Parcel) WriteMap(m map[string]any) error {
	s, err := toStruct(m)
	if err != nil {
		return err
	}
	p.values = append(p.values, structpb.NewStructValue(s))
	return nil
}

// ReadMap reads a string-keyed map.
func (p *Parcel) ReadMap() (map[string]any, error) {
	v, err := p.next()
	if err != nil {
		return nil, err
	}
	s, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, fmt.Errorf("%w: want struct", ErrParcelType)
	}
	return s.StructValue.AsMap(), nil
}

// WriteWant appends a want.
func (p *Parcel) WriteWant(w *types.Want) error {
	if w == nil {
		w = &types.Want{}
	}
	entities := make([]any, 0, len(w.Entities))
	for _, e := range w.Entities {
		entities = append(entities, e)
	}
	params := make(map[string]any, len(w.Params))
	for k, v := range w.Params {
		params[k] = v
	}
	return p.WriteMap(map[string]any{
		"device":   w.Element.DeviceID,
		"bundle":   w.Element.BundleName,
		"ability":  w.Element.AbilityName,
		"module":   w.Element.ModuleName,
		"action":   w.Action,
		"uri":      w.URI,
		"flags":    float64(w.Flags),
		"entities": entities,
		"params":   params,
	})
}

// ReadWant reads a want.
func (p *Parcel) ReadWant() (*types.Want, error) {
	m, err := p.ReadMap()
	if err != nil {
		return nil, err
	}
	w := &types.Want{
		Element: types.ElementName{
			DeviceID:    str(m["device"]),
			BundleName:  str(m["bundle"]),
			AbilityName: str(m["ability"]),
			ModuleName:  str(m["module"]),
		},
		Action: str(m["action"]),
		URI:    str(m["uri"]),
	}
	if f, ok := m["flags"].(float64); ok {
		w.Flags = int(f)
	}
	if ents, ok := m["entities"].([]any); ok {
		for _, e := range ents {
			w.Entities = append(w.Entities, str(e))
		}
	}
	if params, ok := m["params"].(map[string]any); ok && len(params) > 0 {
		w.Params = params
	}
	return w, nil
}

// WriteRemoteObject appends the identity of obj; nil writes an empty id.
func (p *Parcel) WriteRemoteObject(obj RemoteObject) {
	if obj == nil {
		p.WriteString("")
		return
	}
	p.WriteString(string(obj.ID()))
}

// ReadRemoteObject reads an identity and resolves it. An empty id yields
// nil without error.
func (p *Parcel) ReadRemoteObject(r Resolver) (RemoteObject, error) {
	s, err := p.ReadString()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	if r == nil {
		return nil, fmt.Errorf("no resolver for remote object %s", s)
	}
	obj, ok := r.Resolve(id.ObjectID(s))
	if !ok {
		return nil, fmt.Errorf("unknown remote object %s", s)
	}
	return obj, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	fields := make(map[string]*structpb.Value, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := toValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = v
	}
	return &structpb.Struct{Fields: fields}, nil
}

func toValue(v any) (*structpb.Value, error) {
	switch t := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case int:
		return structpb.NewStringValue(strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return structpb.NewStringValue(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return structpb.NewStringValue(strconv.FormatInt(t, 10)), nil
	case []string:
		vals := make([]*structpb.Value, 0, len(t))
		for _, s := range t {
			vals = append(vals, structpb.NewStringValue(s))
		}
		return structpb.NewListValue(&structpb.ListValue{Values: vals}), nil
	case []int64:
		vals := make([]*structpb.Value, 0, len(t))
		for _, n := range t {
			vals = append(vals, structpb.NewStringValue(strconv.FormatInt(n, 10)))
		}
		return structpb.NewListValue(&structpb.ListValue{Values: vals}), nil
	case []any:
		vals := make([]*structpb.Value, 0, len(t))
		for _, e := range t {
			ev, err := toValue(e)
			if err != nil {
				return nil, err
			}
			vals = append(vals, ev)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: vals}), nil
	case map[string]any:
		s, err := toStruct(t)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return toValue(m)
	default:
		return structpb.NewValue(v)
	}
}
