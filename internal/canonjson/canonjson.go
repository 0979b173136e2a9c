// Package canonjson produces a canonical JSON encoding — object keys
// sorted lexicographically at every level — so that hashing it is stable
// across process restarts and across Go map iteration order (§4.2.1:
// "argsHash must be stable across restarts").
package canonjson

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
)

// Marshal renders v (expected to be JSON-compatible: map[string]any,
// []any, string, float64/int, bool, nil) as canonical JSON.
func Marshal(v any) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return append(buf, raw...), nil
	case float64:
		return strconv.AppendFloat(buf, t, 'g', -1, 64), nil
	case int:
		return strconv.AppendInt(buf, int64(t), 10), nil
	case int64:
		return strconv.AppendInt(buf, t, 10), nil
	case json.Number:
		return append(buf, string(t)...), nil
	case map[string]any:
		return appendObject(buf, t)
	case []any:
		return appendArray(buf, t)
	default:
		// Any other JSON-marshalable Go value (e.g. a typed struct payload)
		// is round-tripped through encoding/json into generic values and
		// then rendered canonically like the cases above.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("canonjson: unsupported value %T: %w", v, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		return appendValue(buf, generic)
	}
}

func appendObject(buf []byte, m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyRaw, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyRaw...)
		buf = append(buf, ':')
		buf, err = appendValue(buf, m[k])
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func appendArray(buf []byte, arr []any) ([]byte, error) {
	buf = append(buf, '[')
	for i, v := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = appendValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

// FNV1aHex computes the 8-hex-char FNV-1a hash of the canonical JSON
// encoding of {toolName, args} (§4.2.1).
func FNV1aHex(toolName string, args map[string]any) (string, error) {
	canon, err := Marshal(map[string]any{"toolName": toolName, "args": args})
	if err != nil {
		return "", err
	}
	h := fnv.New32a()
	h.Write(canon)
	return fmt.Sprintf("%08x", h.Sum32()), nil
}
