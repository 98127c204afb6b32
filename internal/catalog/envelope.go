package catalog

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// envelopeKeys lists wrapper keys in priority order.
var envelopeKeys = []string{"data", "items", "result", "Data", "Items", "Result"}

// strategy extracts a JSON list from one known response shape.
type strategy struct {
	name    string
	extract func(body []byte) (json.RawMessage, bool)
}

// listStrategies is tried in order; the first match wins.
var listStrategies = func() []strategy {
	s := []strategy{{name: "bare", extract: bareList}}
	for _, key := range envelopeKeys {
		s = append(s, strategy{name: key, extract: keyedList(key)})
	}
	return s
}()

func bareList(body []byte) (json.RawMessage, bool) {
	if isJSONList(body) {
		return body, true
	}
	return nil, false
}

func keyedList(key string) func([]byte) (json.RawMessage, bool) {
	return func(body []byte) (json.RawMessage, bool) {
		obj, ok := asObject(body)
		if !ok {
			return nil, false
		}
		v, ok := obj[key]
		if !ok || !isJSONList(v) {
			return nil, false
		}
		return v, true
	}
}

// extractList returns the first list found by listStrategies. When a
// wrapper key holds an object, the strategies are applied to it once more
// to handle {"data": {"items": [...]}}.
func extractList(body []byte) (json.RawMessage, bool) {
	return extractListDepth(bytes.TrimSpace(body), 1)
}

func extractListDepth(body []byte, depth int) (json.RawMessage, bool) {
	for _, s := range listStrategies {
		if v, ok := s.extract(body); ok {
			return v, true
		}
	}
	if depth == 0 {
		return nil, false
	}
	obj, ok := asObject(body)
	if !ok {
		return nil, false
	}
	for _, key := range envelopeKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		if _, isObj := asObject(v); !isObj {
			continue
		}
		if list, ok := extractListDepth(bytes.TrimSpace(v), depth-1); ok {
			return list, true
		}
	}
	return nil, false
}

// extractObject returns a single record, either bare or wrapped under
// one of the envelope keys.
func extractObject(body []byte) (json.RawMessage, bool) {
	body = bytes.TrimSpace(body)
	obj, ok := asObject(body)
	if !ok {
		return nil, false
	}
	for _, key := range envelopeKeys {
		if v, ok := obj[key]; ok {
			if _, isObj := asObject(v); isObj {
				return v, true
			}
		}
	}
	return body, true
}

// decodeList decodes each element independently so one malformed record
// does not discard the rest.
func decodeList[T any](list json.RawMessage) []T {
	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			slog.Debug("skipping malformed catalog record", "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

func isJSONList(b []byte) bool {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '[' {
		return false
	}
	return json.Valid(b)
}

func asObject(b []byte) (map[string]json.RawMessage, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, false
	}
	return obj, true
}
