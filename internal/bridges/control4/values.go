package control4

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Director values arrive as JSON: numbers are float64, but some drivers
// report numbers and booleans as strings. These helpers accept both.

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		}
	}
	return false, false
}

func ptr[T any](v T) *T {
	return &v
}

// setString, setFloat, setInt and setBool store a coerced value in dst and
// drop any raw copy of key left in extras by an earlier message. A value
// that cannot be coerced (null, a nested object) clears dst and is kept
// verbatim in extras under key.

func setString(dst **string, key string, v any, extras map[string]any) {
	if s, ok := asString(v); ok {
		*dst = ptr(s)
		extras[key] = staleExtra{}
		return
	}
	*dst = nil
	extras[key] = v
}

func setFloat(dst **float64, key string, v any, extras map[string]any) {
	if f, ok := asFloat(v); ok {
		*dst = ptr(f)
		extras[key] = staleExtra{}
		return
	}
	*dst = nil
	extras[key] = v
}

func setInt(dst **int, key string, v any, extras map[string]any) {
	if i, ok := asInt(v); ok {
		*dst = ptr(i)
		extras[key] = staleExtra{}
		return
	}
	*dst = nil
	extras[key] = v
}

func setBool(dst **bool, key string, v any, extras map[string]any) {
	if b, ok := asBool(v); ok {
		*dst = ptr(b)
		extras[key] = staleExtra{}
		return
	}
	*dst = nil
	extras[key] = v
}
