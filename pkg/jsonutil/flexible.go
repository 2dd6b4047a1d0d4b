package jsonutil

import (
	"fmt"
	"strconv"
	"strings"
)

// Helpers for reading loosely-typed scalars out of decoded JSON objects.
// Connection configs arrive as map[string]any after decryption, and clients
// are not consistent about scalar types: ports show up as numbers or as
// strings, flags as booleans or as "true"/"false".

// StringValue coerces a decoded JSON value to a string. Numbers and booleans
// are formatted; nil and unsupported types report ok=false.
func StringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return fmt.Sprintf("%g", s), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

// IntValue coerces a decoded JSON value to an int. JSON numbers decode as
// float64; numeric strings ("5432") are parsed.
func IntValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// BoolValue coerces a decoded JSON value to a bool. String forms accepted by
// strconv.ParseBool ("true", "1", "False", ...) are parsed.
func BoolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}
