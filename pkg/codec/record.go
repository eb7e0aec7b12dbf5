package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/liangmulu/open-chat/pkg/content"
	"github.com/liangmulu/open-chat/pkg/events"
)

// A record is a struct written as a map keyed by its msgpack tags. Older
// writers used the long names in the legacy tag, and before that a
// positional array in field declaration order.

type field struct {
	index     int
	name      string
	legacy    string
	omitEmpty bool
}

type recordInfo struct {
	fields   []field
	byName   map[string]int
	byLegacy map[string]int
}

var recordCache sync.Map // reflect.Type -> *recordInfo

func recordOf(t reflect.Type) *recordInfo {
	if v, ok := recordCache.Load(t); ok {
		return v.(*recordInfo)
	}
	info := &recordInfo{byName: map[string]int{}, byLegacy: map[string]int{}}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("msgpack")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		legacy := sf.Tag.Get("legacy")
		if legacy == "" {
			legacy = name
		}
		f := field{index: i, name: name, legacy: legacy, omitEmpty: strings.Contains(opts, "omitempty")}
		info.byName[name] = len(info.fields)
		info.byLegacy[legacy] = len(info.fields)
		info.fields = append(info.fields, f)
	}
	v, _ := recordCache.LoadOrStore(t, info)
	return v.(*recordInfo)
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	}
	return v.IsZero()
}

func encodeRecord(enc *msgpack.Encoder, v reflect.Value) error {
	info := recordOf(v.Type())
	n := 0
	for _, f := range info.fields {
		if !f.omitEmpty || !isEmptyValue(v.Field(f.index)) {
			n++
		}
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}
	for _, f := range info.fields {
		fv := v.Field(f.index)
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		if err := enc.EncodeString(f.name); err != nil {
			return err
		}
		if err := encodeField(enc, fv); err != nil {
			return fmt.Errorf("%s.%s: %w", v.Type().Name(), f.name, err)
		}
	}
	return nil
}

func encodeField(enc *msgpack.Encoder, fv reflect.Value) error {
	switch {
	case fv.Type() == contentIface:
		if fv.IsNil() {
			return enc.EncodeNil()
		}
		return encodeUnion(enc, contentUnion, fv.Interface())
	case fv.Type() == eventIface:
		if fv.IsNil() {
			return enc.EncodeNil()
		}
		return encodeUnion(enc, eventUnion, fv.Interface())
	case fv.Kind() == reflect.Map:
		return encodeSortedMap(enc, fv)
	}
	return enc.EncodeValue(fv)
}

// encodeSortedMap writes a map with its keys in ascending order so equal
// values always produce equal bytes.
func encodeSortedMap(enc *msgpack.Encoder, m reflect.Value) error {
	if m.IsNil() {
		return enc.EncodeNil()
	}
	keys := m.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch a.Kind() {
		case reflect.String:
			return a.String() < b.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return a.Uint() < b.Uint()
		}
		return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
	})
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeValue(k); err != nil {
			return err
		}
		if err := enc.EncodeValue(m.MapIndex(k)); err != nil {
			return err
		}
	}
	return nil
}

func encodeUnion(enc *msgpack.Encoder, u *union, val any) error {
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("%s: cannot encode %T", u.name, val)
	}
	v, ok := u.byType[rv.Type().Elem()]
	if !ok {
		return fmt.Errorf("%s: no wire tag for %T", u.name, val)
	}
	if v.unit {
		return enc.EncodeString(v.tag)
	}
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString(v.tag); err != nil {
		return err
	}
	return encodeRecord(enc, rv.Elem())
}

var (
	errTrailingBytes = errors.New("trailing bytes")
	errNotRecord     = errors.New("record is neither a map nor an array")
)

func newDecoder(b []byte) (*msgpack.Decoder, *bytes.Reader) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)
	return dec, r
}

func isMapCode(c byte) bool {
	return msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}

// decodeRecord fills v, a settable struct, from b. It returns the oldest
// encoding seen in v or any union nested in it.
func decodeRecord(b []byte, v reflect.Value) (Version, error) {
	dec, r := newDecoder(b)
	code, err := dec.PeekCode()
	if err != nil {
		return Current, err
	}
	info := recordOf(v.Type())

	var (
		layout Version
		keys   []string
		raws   []msgpack.RawMessage
	)
	switch {
	case isMapCode(code):
		n, err := dec.DecodeMapLen()
		if err != nil {
			return Current, err
		}
		for i := 0; i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return Current, err
			}
			raw, err := dec.DecodeRaw()
			if err != nil {
				return Current, err
			}
			keys = append(keys, k)
			raws = append(raws, raw)
		}
		layout, err = matchKeys(info, keys)
		if err != nil {
			return Current, fmt.Errorf("%s: %w", v.Type().Name(), err)
		}
	case isArrayCode(code):
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Current, err
		}
		if n > len(info.fields) {
			return Current, fmt.Errorf("%s: array has %d items, record has %d fields", v.Type().Name(), n, len(info.fields))
		}
		for i := 0; i < n; i++ {
			raw, err := dec.DecodeRaw()
			if err != nil {
				return Current, err
			}
			keys = append(keys, info.fields[i].name)
			raws = append(raws, raw)
		}
		layout = Prev2
	default:
		return Current, fmt.Errorf("%s: %w (code 0x%02x)", v.Type().Name(), errNotRecord, code)
	}
	if r.Len() != 0 {
		return Current, errTrailingBytes
	}

	version := layout
	var poisoned error
	for i, k := range keys {
		idx, ok := info.byName[k]
		if layout == Prev1 {
			idx, ok = info.byLegacy[k]
		}
		if !ok {
			return Current, fmt.Errorf("%s: unknown field %q", v.Type().Name(), k)
		}
		f := info.fields[idx]
		nested, err := decodeField(raws[i], v.Field(f.index))
		if errors.Is(err, errPoisoned) {
			poisoned = err
			continue
		}
		if err != nil {
			return Current, fmt.Errorf("%s.%s: %w", v.Type().Name(), f.name, err)
		}
		version = older(version, nested)
	}
	if poisoned != nil {
		return version, poisoned
	}
	return version, nil
}

// matchKeys decides whether a map record uses current or legacy names.
func matchKeys(info *recordInfo, keys []string) (Version, error) {
	current, legacy := true, true
	for _, k := range keys {
		if _, ok := info.byName[k]; !ok {
			current = false
		}
		if _, ok := info.byLegacy[k]; !ok {
			legacy = false
		}
	}
	switch {
	case current:
		return Current, nil
	case legacy:
		return Prev1, nil
	}
	for _, k := range keys {
		if _, ok := info.byName[k]; !ok {
			if _, ok := info.byLegacy[k]; !ok {
				return Current, fmt.Errorf("unknown field %q", k)
			}
		}
	}
	return Current, errors.New("current and legacy field names mixed")
}

// errPoisoned marks an event payload that could not be read. The field
// has been set to a FailedToDeserialize placeholder.
var errPoisoned = errors.New("event payload unreadable")

func decodeField(raw []byte, fv reflect.Value) (Version, error) {
	isNil := len(raw) == 1 && raw[0] == msgpcode.Nil
	switch fv.Type() {
	case contentIface:
		if isNil {
			return Current, nil
		}
		val, ver, err := decodeUnion(raw, contentUnion)
		if err != nil {
			return Current, err
		}
		fv.Set(reflect.ValueOf(val.(content.Internal)))
		return ver, nil
	case eventIface:
		val, ver, err := decodeUnion(raw, eventUnion)
		if err != nil {
			fv.Set(reflect.ValueOf(events.Event(&events.FailedToDeserialize{Reason: err.Error()})))
			return Current, fmt.Errorf("%w: %v", errPoisoned, err)
		}
		fv.Set(reflect.ValueOf(val.(events.Event)))
		return ver, nil
	}
	dec, r := newDecoder(raw)
	if err := dec.DecodeValue(fv); err != nil {
		return Current, err
	}
	if r.Len() != 0 {
		return Current, errTrailingBytes
	}
	return Current, nil
}

// decodeUnion reads {tag: record} or a bare unit tag and returns a pointer
// to the variant struct.
func decodeUnion(raw []byte, u *union) (any, Version, error) {
	dec, r := newDecoder(raw)
	code, err := dec.PeekCode()
	if err != nil {
		return nil, Current, err
	}
	if msgpcode.IsString(code) {
		tag, err := dec.DecodeString()
		if err != nil {
			return nil, Current, err
		}
		v, ver, err := lookupVariant(u, tag)
		if err != nil {
			return nil, Current, err
		}
		if !v.unit {
			return nil, Current, fmt.Errorf("%s: variant %q needs a payload", u.name, tag)
		}
		return reflect.New(v.typ).Interface(), ver, nil
	}
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, Current, err
	}
	if n != 1 {
		return nil, Current, fmt.Errorf("%s: expected single entry map, got %d entries", u.name, n)
	}
	tag, err := dec.DecodeString()
	if err != nil {
		return nil, Current, err
	}
	payload, err := dec.DecodeRaw()
	if err != nil {
		return nil, Current, err
	}
	if r.Len() != 0 {
		return nil, Current, errTrailingBytes
	}
	v, ver, err := lookupVariant(u, tag)
	if err != nil {
		return nil, Current, err
	}
	ptr := reflect.New(v.typ)
	if v.unit {
		return ptr.Interface(), ver, nil
	}
	inner, err := decodeRecord(payload, ptr.Elem())
	if err != nil {
		return nil, Current, fmt.Errorf("%s %q: %w", u.name, tag, err)
	}
	return ptr.Interface(), older(ver, inner), nil
}

func lookupVariant(u *union, tag string) (*variant, Version, error) {
	if v, ok := u.byTag[tag]; ok {
		return v, Current, nil
	}
	if v, ok := u.byLegacy[tag]; ok {
		return v, Prev1, nil
	}
	return nil, Current, fmt.Errorf("%s: %w %q", u.name, ErrUnknownTag, tag)
}
