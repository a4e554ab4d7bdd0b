// Package frame turns raw notification bytes into delimited field sequences
// and checks them against the deployment's field schema.
package frame

import (
	"fmt"
	"strings"
)

// Schema is the ordered list of field names carried by every data frame.
// It is fixed for the lifetime of a gateway instance.
type Schema struct {
	names []string
}

// NewSchema validates names and returns a Schema. Names must be non-empty
// and unique.
func NewSchema(names []string) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, fmt.Errorf("frame: schema must have at least one field")
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return Schema{}, fmt.Errorf("frame: schema field %d is empty", i)
		}
		if seen[n] {
			return Schema{}, fmt.Errorf("frame: duplicate schema field %q", n)
		}
		seen[n] = true
		out[i] = n
	}
	return Schema{names: out}, nil
}

// MustSchema is NewSchema for literals in tests and defaults. Panics on error.
func MustSchema(names ...string) Schema {
	s, err := NewSchema(names)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the expected arity.
func (s Schema) Len() int { return len(s.names) }

// Name returns the field name at position i.
func (s Schema) Name(i int) string { return s.names[i] }

// Names returns a copy of the field names.
func (s Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Schema) String() string { return strings.Join(s.names, ",") }
