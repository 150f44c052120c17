package trust

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Bounds applied by the command schemas.
const (
	MaxSessionIDLen = 128
	MaxPathLen      = 4096
	MaxShellLen     = 1024
	MaxWriteLen     = 1 << 20
	MinDimension    = 1
	MaxDimension    = 500
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// fields is a decoded params object. Each accessor consumes the field it
// reads so that leftovers can be reported as unknown.
type fields map[string]json.RawMessage

func parseFields(raw json.RawMessage) (fields, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fields{}, nil
	}
	if trimmed[0] != '{' {
		return nil, invalid("params", "must be an object")
	}
	var f fields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, invalid("params", "malformed object")
	}
	return f, nil
}

// done rejects any field no accessor asked for.
func (f fields) done() error {
	for name := range f {
		return invalid(name, "unknown field")
	}
	return nil
}

func (f fields) take(name string) (json.RawMessage, bool) {
	raw, ok := f[name]
	if !ok {
		return nil, false
	}
	delete(f, name)
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

// str reads a string field. Required strings must be non-empty; optional
// ones may be absent, null, or empty. Every string is bounded by maxLen bytes
// and must be valid UTF-8 without NUL.
func (f fields) str(name string, required bool, maxLen int) (string, error) {
	raw, ok := f.take(name)
	if !ok {
		if required {
			return "", invalid(name, "required")
		}
		return "", nil
	}
	if raw[0] != '"' {
		return "", invalid(name, "must be a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(name, "must be a string")
	}
	if required && s == "" {
		return "", invalid(name, "must not be empty")
	}
	if len(s) > maxLen {
		return "", invalid(name, "too long")
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return "", invalid(name, "invalid characters")
	}
	return s, nil
}

// data reads a required string payload that may be empty (PTY input).
func (f fields) data(name string, maxLen int) (string, error) {
	raw, ok := f.take(name)
	if !ok {
		return "", invalid(name, "required")
	}
	if raw[0] != '"' {
		return "", invalid(name, "must be a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(name, "must be a string")
	}
	if len(s) > maxLen {
		return "", invalid(name, "too long")
	}
	return s, nil
}

func (f fields) sessionID(name string) (string, error) {
	id, err := f.str(name, true, MaxSessionIDLen)
	if err != nil {
		return "", err
	}
	if err := checkSessionID(name, id); err != nil {
		return "", err
	}
	return id, nil
}

// optionalSessionID accepts an absent or empty id, meaning "none".
func (f fields) optionalSessionID(name string) (string, error) {
	id, err := f.str(name, false, MaxSessionIDLen)
	if err != nil || id == "" {
		return id, err
	}
	if err := checkSessionID(name, id); err != nil {
		return "", err
	}
	return id, nil
}

func checkSessionID(name, id string) error {
	if !sessionIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return invalid(name, "not a safe identifier")
	}
	return nil
}

// path reads a required filesystem path. Paths must be absolute.
func (f fields) path(name string) (string, error) {
	p, err := f.str(name, true, MaxPathLen)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(p, "/") {
		return "", invalid(name, "must be absolute")
	}
	return p, nil
}

// intRange reads a required integer in [min, max]. Only plain JSON integer
// literals are accepted: no strings, fractions or exponents.
func (f fields) intRange(name string, min, max int) (int, error) {
	raw, ok := f.take(name)
	if !ok {
		return 0, invalid(name, "required")
	}
	if !isIntegerLiteral(raw) {
		return 0, invalid(name, "must be an integer")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, invalid(name, "must be an integer")
	}
	v, err := n.Int64()
	if err != nil || v < int64(min) || v > int64(max) {
		return 0, invalid(name, "out of range")
	}
	return int(v), nil
}

// boolean reads an optional JSON boolean; absent means def.
func (f fields) boolean(name string, def bool) (bool, error) {
	raw, ok := f.take(name)
	if !ok {
		return def, nil
	}
	switch string(raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, invalid(name, "must be a boolean")
}

func isIntegerLiteral(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	i := 0
	if raw[0] == '-' {
		i++
	}
	if i == len(raw) {
		return false
	}
	for ; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}

// optionalIntRange is intRange with a default for an absent field.
func (f fields) optionalIntRange(name string, min, max, def int) (int, error) {
	if _, present := f[name]; !present {
		return def, nil
	}
	if raw := bytes.TrimSpace(f[name]); bytes.Equal(raw, []byte("null")) {
		delete(f, name)
		return def, nil
	}
	return f.intRange(name, min, max)
}
