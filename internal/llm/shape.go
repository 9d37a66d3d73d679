package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errNoObject    = errors.New("no JSON object in response")
	errMissingKeys = errors.New("required keys missing")
)

// Shape is the set of keys a response must carry. A key with a default may
// be absent from the model output; the default is filled in.
type Shape struct {
	Keys     []string       `json:"keys"`
	Defaults map[string]any `json:"defaults,omitempty"`
}

// NewShape builds a shape whose keys are all required.
func NewShape(keys ...string) Shape {
	return Shape{Keys: keys, Defaults: map[string]any{}}
}

// WithDefault returns a copy of s where key falls back to v.
func (s Shape) WithDefault(key string, v any) Shape {
	out := Shape{Keys: append([]string(nil), s.Keys...), Defaults: make(map[string]any, len(s.Defaults)+1)}
	for k, d := range s.Defaults {
		out.Defaults[k] = d
	}
	found := false
	for _, k := range out.Keys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		out.Keys = append(out.Keys, key)
	}
	out.Defaults[key] = v
	return out
}

// required lists keys that have no default.
func (s Shape) required() []string {
	var out []string
	for _, k := range s.Keys {
		if _, ok := s.Defaults[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// complete fills every shape key missing from p. Defaults win, then fallback,
// then the empty string.
func (s Shape) complete(p Payload, fallback Payload) Payload {
	out := make(Payload, len(p)+len(s.Keys))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range s.Keys {
		if _, ok := out[k]; ok {
			continue
		}
		if d, ok := s.Defaults[k]; ok {
			out[k] = d
		} else if v, ok := fallback[k]; ok {
			out[k] = v
		} else {
			out[k] = ""
		}
	}
	return out
}

// Parse extracts the first JSON object from raw and checks it against s.
func (s Shape) Parse(raw string) (Payload, error) {
	obj, ok := ExtractObject(raw)
	if !ok {
		return nil, errNoObject
	}
	var p Payload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	var missing []string
	for _, k := range s.required() {
		if _, ok := p[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", errMissingKeys, strings.Join(missing, ", "))
	}
	return s.complete(p, nil), nil
}

// ExtractObject returns the first balanced {...} in raw. Braces inside JSON
// strings are ignored, including escaped quotes.
func ExtractObject(raw string) (string, bool) {
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		if end := matchBrace(raw, start); end > 0 {
			return raw[start : end+1], true
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(raw string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Payload is a decoded model response.
type Payload map[string]any

// String returns the value at key as text. Non-string values are
// re-encoded as JSON.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// Map returns the object at key, or nil if the value is not an object.
func (p Payload) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}
