package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
)

// Mapping maps a column name to the name of its target type, exactly as
// written in the types mapping document (e.g. {"id": "int"}). Names are
// resolved with ParseType only when a column is actually cast, so entries
// for columns the table does not have are never validated.
type Mapping map[string]string

// ErrMappingNotFound is returned by LoadMapping in required mode when the
// document does not exist.
var ErrMappingNotFound = errors.New("schema: types mapping not found")

// LoadOptions controls LoadMapping.
type LoadOptions struct {
	// Required turns a missing document into an error. When false a missing
	// document is logged and an empty Mapping is returned, which makes the
	// cast stage a no-op.
	Required bool
}

// LoadMapping reads a JSON object of field name -> type name from path.
//
// A missing file is reported with a log line and yields an empty, non-nil
// Mapping unless opt.Required is set. Any other read error and malformed
// JSON are always returned.
func LoadMapping(path string, opt LoadOptions) (Mapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if opt.Required {
				return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, path)
			}
			log.Printf("schema: types mapping %s not found; columns keep their inferred types", path)
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("read types mapping %s: %w", path, err)
	}
	return ParseMapping(b)
}

// ParseMapping decodes a types mapping document. A JSON null decodes to an
// empty mapping; non-string values are rejected.
func ParseMapping(b []byte) (Mapping, error) {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode types mapping: %w", err)
	}
	m := make(Mapping, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("decode types mapping: field %q: type name must be a string, got %T", k, v)
		}
		m[k] = s
	}
	return m, nil
}

// Lookup returns the parsed target type for column. ok is false when the
// column is not mapped; err is set when it is mapped to an unknown type.
func (m Mapping) Lookup(column string) (t Type, ok bool, err error) {
	name, ok := m[column]
	if !ok {
		return "", false, nil
	}
	t, err = ParseType(name)
	if err != nil {
		return "", true, fmt.Errorf("column %q: %w", column, err)
	}
	return t, true, nil
}

// Fields returns the mapped column names in sorted order.
func (m Mapping) Fields() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
