// Package snapshot converts live goja values into bounded, acyclic Go values
// that every trace encoder can carry (JSON, YAML, msgpack).
//
// The output is built only from nil, bool, int64, float64 (always finite),
// string, []any and map[string]any.
package snapshot

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// Markers substituted for values that cannot be represented directly.
const (
	Undefined   = "<undefined>"
	NaN         = "<NaN>"
	PosInf      = "<Infinity>"
	NegInf      = "<-Infinity>"
	MaxDepth    = "<max depth reached>"
	Circular    = "<circular ref>"
	InvalidDate = "<Invalid Date>"
	Ellipsis    = "..."
)

// Limits bound the size of one snapshot.
type Limits struct {
	MaxDepth  int // nesting below the top-level value
	MaxWidth  int // elements, entries or properties per composite
	MaxString int // runes per string
	MaxKey    int // runes per object key
	MaxFrames int // stack lines kept for error objects
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:  5,
		MaxWidth:  20,
		MaxString: 200,
		MaxKey:    50,
		MaxFrames: 3,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxWidth <= 0 {
		l.MaxWidth = d.MaxWidth
	}
	if l.MaxString <= 0 {
		l.MaxString = d.MaxString
	}
	if l.MaxKey <= 0 {
		l.MaxKey = d.MaxKey
	}
	if l.MaxFrames <= 0 {
		l.MaxFrames = d.MaxFrames
	}
	return l
}

// structuralKeys are read even when not enumerable own properties, so that
// tree and list nodes stay navigable.
var structuralKeys = []string{"val", "value", "data", "key", "left", "right", "next", "prev", "children", "root", "head"}

// opaque tags are rendered as "<Tag>" without looking inside.
var opaque = map[string]bool{
	"Promise":                true,
	"WeakMap":                true,
	"WeakSet":                true,
	"WeakRef":                true,
	"Generator":              true,
	"AsyncGenerator":         true,
	"ArrayBuffer":            true,
	"SharedArrayBuffer":      true,
	"DataView":               true,
	"Array Iterator":         true,
	"Map Iterator":           true,
	"Set Iterator":           true,
	"String Iterator":        true,
	"RegExp String Iterator": true,
}

var typedArrays = map[string]bool{
	"Int8Array":         true,
	"Uint8Array":        true,
	"Uint8ClampedArray": true,
	"Int16Array":        true,
	"Uint16Array":       true,
	"Int32Array":        true,
	"Uint32Array":       true,
	"Float32Array":      true,
	"Float64Array":      true,
	"BigInt64Array":     true,
	"BigUint64Array":    true,
}

var ctorType = reflect.TypeOf((func(goja.ConstructorCall) *goja.Object)(nil))

// Serializer snapshots values of one runtime. It must only be used on the
// goroutine running that runtime, typically from inside a native function.
type Serializer struct {
	rt   *goja.Runtime
	lim  Limits
	path map[*goja.Object]struct{}
	// nested counts Serialize calls in progress; a getter may call back in.
	nested int
}

// New returns a serializer for rt. Zero fields of lim take their defaults.
func New(rt *goja.Runtime, lim Limits) *Serializer {
	return &Serializer{rt: rt, lim: lim.withDefaults(), path: make(map[*goja.Object]struct{})}
}

// Limits returns the effective limits.
func (s *Serializer) Limits() Limits { return s.lim }

// Serialize snapshots v. JavaScript exceptions raised while reading
// properties are contained per field; uncatchable interrupts propagate.
func (s *Serializer) Serialize(v goja.Value) any {
	if s.nested == 0 {
		clear(s.path)
	}
	s.nested++
	defer func() { s.nested-- }()
	return s.guard(func() any { return s.value(v, 0) })
}

func (s *Serializer) value(v goja.Value, depth int) any {
	if depth > s.lim.MaxDepth {
		return MaxDepth
	}
	switch {
	case v == nil || goja.IsUndefined(v):
		return Undefined
	case goja.IsNull(v):
		return nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return s.primitive(v)
	}
	if _, seen := s.path[obj]; seen {
		return Circular
	}
	s.path[obj] = struct{}{}
	defer delete(s.path, obj)
	return s.object(obj, depth)
}

func (s *Serializer) primitive(v goja.Value) any {
	if sym, ok := v.(*goja.Symbol); ok {
		return "Symbol(" + sym.String() + ")"
	}
	switch x := v.Export().(type) {
	case bool:
		return x
	case int64:
		return x
	case float64:
		return Number(x)
	case string:
		return truncate(x, s.lim.MaxString)
	case *big.Int:
		return x.String() + "n"
	}
	return truncate(v.String(), s.lim.MaxString)
}

func (s *Serializer) object(obj *goja.Object, depth int) any {
	if _, ok := goja.AssertFunction(obj); ok {
		return s.callable(obj)
	}

	switch obj.ClassName() {
	case "Array", "Arguments":
		return s.list(obj, depth)
	case "Map":
		return s.mapEntries(obj, depth)
	case "Set":
		return s.setValues(obj, depth)
	case "Date":
		if t, ok := obj.Export().(time.Time); ok {
			return t.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		return InvalidDate
	case "RegExp":
		return "/" + s.str(obj.Get("source")) + "/" + s.str(obj.Get("flags"))
	case "Error":
		return s.errorValue(obj)
	case "Number", "String", "Boolean":
		return s.primitive(s.rt.ToValue(obj.Export()))
	}

	tag := s.tag(obj)
	switch {
	case typedArrays[tag]:
		return s.list(obj, depth)
	case opaque[tag]:
		return "<" + tag + ">"
	case tag == "BigInt" || tag == "Symbol":
		return s.primitive(s.rt.ToValue(obj.Export()))
	}
	return s.fields(obj, depth)
}

func (s *Serializer) callable(obj *goja.Object) string {
	name := ""
	if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
		name = v.String()
	}
	if name == "" {
		name = "anonymous"
	}
	if obj.ExportType() == ctorType {
		return "<class " + name + ">"
	}
	return "<function " + name + ">"
}

func (s *Serializer) list(obj *goja.Object, depth int) []any {
	n := s.length(obj)
	keep := min(n, int64(s.lim.MaxWidth))
	out := make([]any, 0, keep+1)
	for i := int64(0); i < keep; i++ {
		key := strconv.FormatInt(i, 10)
		out = append(out, s.guard(func() any { return s.value(obj.Get(key), depth+1) }))
	}
	if n > keep {
		out = append(out, fmt.Sprintf("... +%d more", n-keep))
	}
	return out
}

func (s *Serializer) mapEntries(obj *goja.Object, depth int) any {
	size := s.length(obj)
	out := make(map[string]any)
	kept := 0
	exc := s.rt.Try(func() {
		s.rt.ForOf(obj, func(entry goja.Value) bool {
			if kept >= s.lim.MaxWidth {
				return false
			}
			pair, ok := entry.(*goja.Object)
			if !ok {
				return true
			}
			k := uniqueKey(out, s.keyString(pair.Get("0")))
			val := pair.Get("1")
			out[k] = s.guard(func() any { return s.value(val, depth+1) })
			kept++
			return true
		})
	})
	if exc != nil {
		return s.errorMarker(exc)
	}
	if rest := size - int64(kept); rest > 0 {
		out[Ellipsis] = fmt.Sprintf("+%d more", rest)
	}
	return out
}

func (s *Serializer) setValues(obj *goja.Object, depth int) any {
	size := s.length(obj)
	out := make([]any, 0, min(size, int64(s.lim.MaxWidth))+1)
	exc := s.rt.Try(func() {
		s.rt.ForOf(obj, func(item goja.Value) bool {
			if len(out) >= s.lim.MaxWidth {
				return false
			}
			out = append(out, s.guard(func() any { return s.value(item, depth+1) }))
			return true
		})
	})
	if exc != nil {
		return s.errorMarker(exc)
	}
	if rest := size - int64(len(out)); rest > 0 {
		out = append(out, fmt.Sprintf("... +%d more", rest))
	}
	return out
}

func (s *Serializer) errorValue(obj *goja.Object) map[string]any {
	name := s.str(obj.Get("name"))
	if name == "" {
		name = "Error"
	}
	msg := name
	if m := s.str(obj.Get("message")); m != "" {
		msg = name + ": " + m
	}

	frames := make([]any, 0, s.lim.MaxFrames)
	for _, line := range strings.Split(s.str(obj.Get("stack")), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		frames = append(frames, truncate(line, s.lim.MaxString))
		if len(frames) == s.lim.MaxFrames {
			break
		}
	}
	return map[string]any{
		"error": truncate(msg, s.lim.MaxString),
		"stack": frames,
	}
}

// fields renders a plain object or class instance.
func (s *Serializer) fields(obj *goja.Object, depth int) any {
	var keys []string
	if exc := s.rt.Try(func() { keys = obj.Keys() }); exc != nil {
		return s.errorMarker(exc)
	}

	out := make(map[string]any, min(len(keys), s.lim.MaxWidth))
	kept, skipped := 0, 0
	for _, k := range keys {
		if strings.HasPrefix(k, "__") {
			continue
		}
		if kept == s.lim.MaxWidth {
			skipped++
			continue
		}
		out[truncate(k, s.lim.MaxKey)] = s.guard(func() any { return s.value(obj.Get(k), depth+1) })
		kept++
	}
	if skipped > 0 {
		out[Ellipsis] = fmt.Sprintf("+%d more", skipped)
	}

	for _, k := range structuralKeys {
		if _, ok := out[k]; ok {
			continue
		}
		var v goja.Value
		if exc := s.rt.Try(func() { v = obj.Get(k) }); exc != nil {
			out[k] = s.errorMarker(exc)
			continue
		}
		if v == nil || goja.IsUndefined(v) {
			continue
		}
		out[k] = s.guard(func() any { return s.value(v, depth+1) })
	}
	return out
}

// guard contains a JavaScript exception to the field being serialised.
func (s *Serializer) guard(f func() any) (out any) {
	if exc := s.rt.Try(func() { out = f() }); exc != nil {
		return s.errorMarker(exc)
	}
	return out
}

func (s *Serializer) tag(obj *goja.Object) string {
	var tag string
	s.rt.Try(func() {
		if v := obj.GetSymbol(goja.SymToStringTag); v != nil && goja.IsString(v) {
			tag = v.String()
		}
	})
	return tag
}

func (s *Serializer) length(obj *goja.Object) int64 {
	var n int64
	s.rt.Try(func() {
		prop := "length"
		if cls := obj.ClassName(); cls == "Map" || cls == "Set" {
			prop = "size"
		}
		if v := obj.Get(prop); v != nil {
			n = v.ToInteger()
		}
	})
	return max(n, 0)
}

// keyString renders a Map key. Object keys are named by kind only.
func (s *Serializer) keyString(k goja.Value) string {
	var out string
	switch {
	case k == nil || goja.IsUndefined(k):
		out = "undefined"
	case goja.IsNull(k):
		out = "null"
	default:
		if obj, ok := k.(*goja.Object); ok {
			if _, fn := goja.AssertFunction(obj); fn {
				out = s.callable(obj)
			} else {
				out = "<" + obj.ClassName() + ">"
			}
		} else {
			out = fmt.Sprint(s.primitive(k))
		}
	}
	return truncate(out, s.lim.MaxKey)
}

// uniqueKey numbers k when out already holds it: distinct objects used as
// Map keys all render as "<Object>".
func uniqueKey(out map[string]any, k string) string {
	if _, taken := out[k]; !taken {
		return k
	}
	for n := 2; ; n++ {
		c := fmt.Sprintf("%s#%d", k, n)
		if _, taken := out[c]; !taken {
			return c
		}
	}
}

func (s *Serializer) str(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	var out string
	s.rt.Try(func() { out = v.String() })
	return out
}

// Number maps a float onto a transport-safe value: non-finite numbers become
// markers and integral values collapse to int64.
func Number(f float64) any {
	switch {
	case math.IsNaN(f):
		return NaN
	case math.IsInf(f, 1):
		return PosInf
	case math.IsInf(f, -1):
		return NegInf
	case f == math.Trunc(f) && math.Abs(f) <= 1<<53:
		return int64(f)
	}
	return f
}

func (s *Serializer) errorMarker(exc *goja.Exception) string {
	return "<error: " + truncate(s.str(exc.Value()), 50) + ">"
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}
