// Package sysmsg implements the System-Message Table external-interface
// contract from spec.md §6: a per-sysmsg-version mapping between system
// message names and their numeric codes, used to parse and build the
// `@id(\vkey\vvalue)*` wire format handled by the Dispatch Facade's
// ParseSystemMessage/BuildSystemMessage operations.
package sysmsg

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	fieldSep = "\v"
	idPrefix = "@"
)

// Table holds one protocol revision's system-message name↔code mapping.
// It is loaded from the same YAML bundle format as protocol definitions
// (SPEC_FULL.md §4.6), via FromBundleMap.
type Table struct {
	nameToCode map[string]int
	codeToName map[int]string
}

// NewTable returns an empty table; use FromBundleMap or Add to populate it.
func NewTable() *Table {
	return &Table{nameToCode: make(map[string]int), codeToName: make(map[int]string)}
}

// FromBundleMap builds a Table from the systemMessages map a Bundle decodes
// (name -> numeric code).
func FromBundleMap(m map[string]int) *Table {
	t := NewTable()
	for name, code := range m {
		t.Add(name, code)
	}
	return t
}

// Add registers one name/code pair, overwriting any prior binding for
// either side.
func (t *Table) Add(name string, code int) {
	t.nameToCode[name] = code
	t.codeToName[code] = name
}

// ResolveName returns the code bound to a system message name.
func (t *Table) ResolveName(name string) (int, bool) {
	code, ok := t.nameToCode[name]
	return code, ok
}

// ResolveCode returns the name bound to a system message code.
func (t *Table) ResolveCode(code int) (string, bool) {
	name, ok := t.codeToName[code]
	return name, ok
}

// Parse decodes a wire-format system message of the shape
// `@id(\vkey\vvalue)*` into its resolved name and key/value fields. The id
// token is either a decimal integer, resolved through the table, or a
// literal containing ':' (e.g. a namespaced id some servers send that was
// never assigned a numeric code), passed through unresolved as the name.
// It returns an error if the leading `@` is missing, a non-literal id is
// not a valid integer or has no entry in the table, or the remaining
// fields are not arranged in key/value pairs.
func (t *Table) Parse(raw string) (name string, fields map[string]string, err error) {
	if !strings.HasPrefix(raw, idPrefix) {
		return "", nil, fmt.Errorf("sysmsg: missing %q prefix", idPrefix)
	}
	parts := strings.Split(raw[len(idPrefix):], fieldSep)
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("sysmsg: empty message")
	}

	idToken := parts[0]
	if strings.Contains(idToken, ":") {
		name = idToken
	} else {
		id, err := strconv.Atoi(idToken)
		if err != nil {
			return "", nil, fmt.Errorf("sysmsg: invalid id %q: %w", idToken, err)
		}
		resolved, ok := t.ResolveCode(id)
		if !ok {
			return "", nil, fmt.Errorf("sysmsg: unknown system message id %d", id)
		}
		name = resolved
	}

	rest := parts[1:]
	if len(rest)%2 != 0 {
		return "", nil, fmt.Errorf("sysmsg: odd number of key/value tokens (%d)", len(rest))
	}

	fields = make(map[string]string, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		fields[rest[i]] = rest[i+1]
	}
	return name, fields, nil
}

// Build encodes a system message name and ordered key/value fields into
// the `@id(\vkey\vvalue)*` wire format. keysInOrder controls field
// ordering in the output; any key in fields not present in keysInOrder is
// appended afterward in map iteration order (non-deterministic — callers
// that need stable output should pass every key explicitly).
func (t *Table) Build(name string, fields map[string]string, keysInOrder []string) (string, error) {
	var idToken string
	if code, ok := t.ResolveName(name); ok {
		idToken = strconv.Itoa(code)
	} else if strings.Contains(name, ":") {
		idToken = name
	} else {
		return "", fmt.Errorf("sysmsg: unknown system message name %q", name)
	}

	var b strings.Builder
	b.WriteString(idPrefix)
	b.WriteString(idToken)

	seen := make(map[string]bool, len(keysInOrder))
	for _, k := range keysInOrder {
		v, ok := fields[k]
		if !ok {
			continue
		}
		seen[k] = true
		b.WriteString(fieldSep)
		b.WriteString(k)
		b.WriteString(fieldSep)
		b.WriteString(v)
	}
	for k, v := range fields {
		if seen[k] {
			continue
		}
		b.WriteString(fieldSep)
		b.WriteString(k)
		b.WriteString(fieldSep)
		b.WriteString(v)
	}

	return b.String(), nil
}
