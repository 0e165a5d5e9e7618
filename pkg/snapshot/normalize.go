// Package snapshot provides pure functions for canonicalizing, diffing and
// fingerprinting entity attribute state. Everything here is deterministic:
// the same input always produces the same output, so two snapshots of
// identical logical state compare equal regardless of how the values were
// stored or decoded.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalize canonicalizes raw attribute values into comparable, serializable
// form. Keys in excluded are dropped. Map key order never matters: canonical
// values are compared structurally, and encoding/json sorts object keys when
// entries are persisted, so byte-level stability follows.
func Normalize(raw map[string]any, excluded map[string]bool) map[string]any {
	if raw == nil {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if excluded[k] {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return val
	case string:
		return normalizeString(val)
	case time.Time:
		// Timezone-stable textual form; equal instants render identically.
		return val.UTC().Format(time.RFC3339Nano)
	case json.Number:
		return canonicalNumber(val)
	case int:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int8:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int16:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(val), 10))
	case int64:
		return json.Number(strconv.FormatInt(val, 10))
	case uint:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint8:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint16:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint32:
		return json.Number(strconv.FormatUint(uint64(val), 10))
	case uint64:
		return json.Number(strconv.FormatUint(val, 10))
	case float32:
		return json.Number(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case float64:
		return json.Number(strconv.FormatFloat(val, 'g', -1, 64))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		// Unrecognized types coerce to their string form.
		return fmt.Sprintf("%v", val)
	}
}

// canonicalNumber collapses equivalent numeric spellings ("1.10", "1.1",
// "11e-1") into one canonical form. Integer spellings keep full precision;
// everything else goes through float64 like every other numeric input.
func canonicalNumber(n json.Number) json.Number {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.Number(strconv.FormatInt(i, 10))
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return json.Number(strconv.FormatUint(u, 10))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return n
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// normalizeString decodes strings that look like JSON objects or arrays so
// that semantically identical data stored as a JSON-encoded string or as a
// native structure diff identically. Malformed JSON-looking strings stay
// opaque strings.
func normalizeString(s string) any {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return s
	}
	// Trailing garbage after the JSON value means it wasn't really JSON.
	if dec.More() {
		return s
	}
	return normalizeValue(decoded)
}
