// Package redact removes sensitive values from tool-call payloads before they
// reach the ledger or any live observer.
//
// Sensitive mapping keys are dropped entirely, secret-shaped strings are
// replaced with a typed marker and oversized strings are replaced with a
// marker that only preserves their length.
package redact

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
)

// DefaultMaxStringLength is used when Options.MaxStringLength is not positive.
const DefaultMaxStringLength = 2000

// DefaultMaxDepth bounds recursion into nested payloads.
const DefaultMaxDepth = 32

// DefaultSensitiveKeyPattern matches mapping keys whose values are never kept.
const DefaultSensitiveKeyPattern = `(?i)(token|secret|passw(or)?d|authorization|cookie|api[-_]?key|bearer|access[-_]?token|refresh[-_]?token|private[-_]?key|credential)`

// Kind is the structural class of a payload value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindSequence
	KindMapping
	KindOther
)

// Options configures a Sanitizer.
type Options struct {
	MaxStringLength int
	SensitiveKeys   *regexp.Regexp
	Patterns        []Pattern
	MaxDepth        int
}

// Sanitizer applies redaction rules to arbitrary nested values.
// It is immutable after construction and safe for concurrent use.
type Sanitizer struct {
	maxLen   int
	keys     *regexp.Regexp
	patterns []Pattern
	maxDepth int
}

// New creates a Sanitizer. Zero-valued options fall back to the defaults.
func New(opts Options) *Sanitizer {
	s := &Sanitizer{
		maxLen:   opts.MaxStringLength,
		keys:     opts.SensitiveKeys,
		patterns: opts.Patterns,
		maxDepth: opts.MaxDepth,
	}
	if s.maxLen <= 0 {
		s.maxLen = DefaultMaxStringLength
	}
	if s.keys == nil {
		s.keys = regexp.MustCompile(DefaultSensitiveKeyPattern)
	}
	if s.patterns == nil {
		s.patterns = DefaultPatterns()
	}
	if s.maxDepth <= 0 {
		s.maxDepth = DefaultMaxDepth
	}
	return s
}

// CompileKeyPattern builds the sensitive-key matcher from a base pattern and
// extra literal keys. An empty base uses DefaultSensitiveKeyPattern.
func CompileKeyPattern(base string, extraKeys []string) (*regexp.Regexp, error) {
	if base == "" {
		base = DefaultSensitiveKeyPattern
	}
	pattern := "(?i)(?:" + base + ")"
	for _, k := range extraKeys {
		if k == "" {
			continue
		}
		pattern += "|" + regexp.QuoteMeta(k)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("redact: compile sensitive key pattern: %w", err)
	}
	return re, nil
}

// IsSensitiveKey reports whether values under key are dropped.
func (s *Sanitizer) IsSensitiveKey(key string) bool {
	return s.keys.MatchString(key)
}

// MaxStringLength returns the effective string length limit.
func (s *Sanitizer) MaxStringLength() int {
	return s.maxLen
}

// Value returns a sanitized copy of v. It never panics.
func (s *Sanitizer) Value(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = "<redacted:unserializable>"
		}
	}()
	return s.value(v, 0)
}

// Params sanitizes a tool parameter mapping. A nil input yields nil.
func (s *Sanitizer) Params(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out, ok := s.Value(params).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return out
}

// String applies the string rules to a single value.
func (s *Sanitizer) String(str string) string {
	if name, ok := MatchPattern(s.patterns, str); ok {
		return "<redacted:" + name + ">"
	}
	if len(str) > s.maxLen {
		return "<redacted:" + strconv.Itoa(len(str)) + ">"
	}
	return str
}

func (s *Sanitizer) value(v any, depth int) any {
	if depth > s.maxDepth {
		return "<redacted:depth>"
	}
	v = deref(v)

	switch KindOf(v) {
	case KindNull:
		return nil
	case KindBool:
		return v
	case KindNumber:
		out := number(v)
		if str, ok := out.(string); ok {
			return s.String(str)
		}
		return out
	case KindString:
		return s.String(stringOf(v))
	case KindSequence:
		rv := reflect.ValueOf(v)
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = s.value(rv.Index(i).Interface(), depth+1)
		}
		return out
	case KindMapping:
		return s.mapping(v, depth)
	default:
		return s.String(fmt.Sprint(v))
	}
}

// number passes finite numbers through. NaN and infinities have no JSON
// form and become strings; so does a json.Number that is not a number.
func number(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return strconv.FormatFloat(n, 'g', -1, 64)
		}
	case float32:
		if f := float64(n); math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 32)
		}
	case json.Number:
		if _, err := json.Marshal(n); err != nil {
			return string(n)
		}
	}
	return v
}

func (s *Sanitizer) mapping(v any, depth int) map[string]any {
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, item := range m {
			if s.keys.MatchString(k) {
				continue
			}
			out[k] = s.value(item, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	keys := rv.MapKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = keyName(k)
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return names[order[a]] < names[order[b]] })

	out := make(map[string]any, len(keys))
	for _, i := range order {
		if s.keys.MatchString(names[i]) {
			continue
		}
		out[names[i]] = s.value(rv.MapIndex(keys[i]).Interface(), depth+1)
	}
	return out
}

func keyName(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

// KindOf classifies v. Typed slices and maps of any key type are recognized
// through reflection; everything unrecognized is KindOther.
func KindOf(v any) Kind {
	if v != nil && reflect.ValueOf(v).Kind() == reflect.Map {
		return KindMapping
	}
	switch v.(type) {
	case nil:
		return KindNull
	case string, []byte:
		return KindString
	case bool:
		return KindBool
	case json.Number:
		return KindNumber
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return KindNumber
	case []any:
		return KindSequence
	case map[string]any:
		return KindMapping
	case fmt.Stringer, error:
		return KindOther
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return KindNull
		}
		return KindOther
	case reflect.String:
		return KindString
	case reflect.Slice, reflect.Array:
		return KindSequence
	}
	return KindOther
}

// deref follows non-nil pointers to the value they point at.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		switch rv.Interface().(type) {
		case fmt.Stringer, error:
			return rv.Interface()
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return reflect.ValueOf(v).String()
}
