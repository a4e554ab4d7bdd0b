package frame

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Delimiter separates fields in a data frame. Escaping is not supported.
const Delimiter = ","

var (
	// ErrInvalidUTF8 is returned when the raw frame is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("frame: invalid UTF-8")
	// ErrEmpty is returned for frames that are blank after trimming.
	ErrEmpty = errors.New("frame: empty")
	// ErrArity is returned when the field count does not satisfy the schema.
	ErrArity = errors.New("frame: field count mismatch")
)

// ArityMode selects how the field count is checked against the schema.
type ArityMode int

const (
	// ArityStrict requires exactly Schema.Len()+offset fields.
	ArityStrict ArityMode = iota
	// ArityAtLeast accepts any frame with at least Schema.Len()+offset fields.
	ArityAtLeast
)

// ParseArityMode maps the config spelling to an ArityMode.
func ParseArityMode(s string) (ArityMode, error) {
	switch s {
	case "strict", "":
		return ArityStrict, nil
	case "at_least":
		return ArityAtLeast, nil
	default:
		return 0, fmt.Errorf("frame: arity must be \"strict\" or \"at_least\", got %q", s)
	}
}

func (m ArityMode) String() string {
	if m == ArityAtLeast {
		return "at_least"
	}
	return "strict"
}

// Text decodes raw bytes as UTF-8 and trims surrounding whitespace,
// including the CR/LF terminators peripherals append to each line.
func Text(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Split breaks text on the delimiter and checks the arity. offset is the
// number of leading columns that precede the schema fields (0 for most
// peripherals). The returned slice holds only the schema-aligned fields.
func Split(text string, schema Schema, mode ArityMode, offset int) ([]string, error) {
	parts := strings.Split(text, Delimiter)
	want := schema.Len() + offset
	switch mode {
	case ArityAtLeast:
		if len(parts) < want {
			return nil, fmt.Errorf("%w: got %d fields, want at least %d", ErrArity, len(parts), want)
		}
	default:
		if len(parts) != want {
			return nil, fmt.Errorf("%w: got %d fields, want %d", ErrArity, len(parts), want)
		}
	}
	fields := parts[offset:want]
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

// Decode combines Text and Split.
func Decode(raw []byte, schema Schema, mode ArityMode, offset int) ([]string, error) {
	text, err := Text(raw)
	if err != nil {
		return nil, err
	}
	return Split(text, schema, mode, offset)
}
