// Package sanitize redacts secrets and PII from strings and object graphs
// before they reach a log line or an LLM payload. It never panics: any
// failure degrades to the literal string "[unserialisable]" rather than
// propagating to the caller, matching qerrors' "never throws" posture for
// ambient concerns (see errors.Internal).
//
// Grounded on the shape of a rule table the way hapax's
// server/validation package drives field checks from struct tags, but
// generalized here into an ordered list of redaction regexes over
// arbitrary values rather than a fixed schema.
package sanitize

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Default limits, per spec.md §4.2.
const (
	DefaultMaxStringLen = 8 * 1024
	DefaultMaxDepth      = 5
	DefaultMaxProps      = 100
)

// sensitiveKeyPattern matches object keys that should be redacted wholesale
// regardless of their value's shape.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)password|token|secret|apikey|authorization|cookie|bearer`)

// Value-pattern redactions, ordered most-likely-first so the common case
// (no match) short-circuits quickly.
var (
	jwtPattern        = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{5,}\b`)
	creditCardPattern = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)
	emailPattern      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+(@[A-Za-z0-9.-]+\.[A-Za-z]+)\b`)
)

const redacted = "[redacted]"

// Options bounds sanitisation work; zero value is invalid, use DefaultOptions.
type Options struct {
	MaxStringLen int
	MaxDepth     int
	MaxProps     int
}

// DefaultOptions returns spec.md §4.2's defaults.
func DefaultOptions() Options {
	return Options{
		MaxStringLen: DefaultMaxStringLen,
		MaxDepth:     DefaultMaxDepth,
		MaxProps:     DefaultMaxProps,
	}
}

// SanitiseString redacts secret-shaped substrings from s and truncates it
// to DefaultOptions().MaxStringLen.
func SanitiseString(s string) string {
	return SanitiseStringWithOptions(s, DefaultOptions())
}

// SanitiseStringWithOptions is SanitiseString with caller-supplied limits.
func SanitiseStringWithOptions(s string, opts Options) (out string) {
	defer func() {
		if recover() != nil {
			out = "[unserialisable]"
		}
	}()

	redactedStr := s
	// Every value pattern needs the "eyJ" JWT prefix, a digit, or an '@'.
	if strings.Contains(s, "eyJ") || strings.ContainsAny(s, "@0123456789") {
		redactedStr = jwtPattern.ReplaceAllString(redactedStr, redacted)
		redactedStr = creditCardPattern.ReplaceAllString(redactedStr, redacted)
		redactedStr = emailPattern.ReplaceAllString(redactedStr, redacted+"$1")
	}

	if opts.MaxStringLen > 0 && len(redactedStr) > opts.MaxStringLen {
		truncatedBytes := len(redactedStr) - opts.MaxStringLen
		redactedStr = fmt.Sprintf("%s…[truncated %d bytes]", redactedStr[:opts.MaxStringLen], truncatedBytes)
	}
	return redactedStr
}

// SanitiseObject walks o (expected to be built from map[string]interface{}
// and []interface{}, as ErrorRecord.context and LogEntry.meta are) and
// returns a redacted copy. Cycles become the literal string "[circular]";
// values nested deeper than MaxDepth become "[depth-exceeded]", and
// properties or elements beyond MaxProps are dropped. SanitiseObject never
// panics.
func SanitiseObject(o interface{}) interface{} {
	return SanitiseObjectWithOptions(o, DefaultOptions())
}

// SanitiseObjectWithOptions is SanitiseObject with caller-supplied limits.
func SanitiseObjectWithOptions(o interface{}, opts Options) (result interface{}) {
	defer func() {
		if recover() != nil {
			result = "[unserialisable]"
		}
	}()
	return sanitiseValue(o, 0, opts, map[uintptr]bool{}, "")
}

func sanitiseValue(v interface{}, depth int, opts Options, visited map[uintptr]bool, key string) interface{} {
	if v == nil {
		return nil
	}
	if sensitiveKeyPattern.MatchString(key) {
		return redacted
	}
	if depth > opts.MaxDepth {
		return "[depth-exceeded]"
	}

	switch val := v.(type) {
	case string:
		return SanitiseStringWithOptions(val, opts)

	case map[string]interface{}:
		if ptr, ok := refPointer(val); ok {
			if visited[ptr] {
				return "[circular]"
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		out := make(map[string]interface{}, len(val))
		count := 0
		for k, vv := range val {
			if count >= opts.MaxProps {
				break
			}
			out[k] = sanitiseValue(vv, depth+1, opts, visited, k)
			count++
		}
		return out

	case []interface{}:
		if ptr, ok := refPointer(val); ok {
			if visited[ptr] {
				return "[circular]"
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		n := len(val)
		if n > opts.MaxProps {
			n = opts.MaxProps
		}
		out := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, sanitiseValue(val[i], depth+1, opts, visited, ""))
		}
		return out

	default:
		// Numbers, bools, and anything else pass through unchanged so that
		// sanitisation is the identity for non-sensitive, non-string values
		// (spec.md P10).
		return v
	}
}

// refPointer returns a stable pointer identity for reference-kinded values
// (map, slice, pointer) so cycles can be detected; ok is false for value
// kinds which can't participate in a cycle.
func refPointer(v interface{}) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	default:
		return 0, false
	}
}
