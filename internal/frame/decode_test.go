package frame

import (
	"errors"
	"reflect"
	"testing"
)

var testSchema = MustSchema("pH", "TDS", "temperature", "humidity", "water_temp")

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		mode    ArityMode
		offset  int
		want    []string
		wantErr error
	}{
		{
			name: "exact arity strict",
			raw:  "6.8,450,23.5,55,19.2",
			mode: ArityStrict,
			want: []string{"6.8", "450", "23.5", "55", "19.2"},
		},
		{
			name: "trailing CRLF trimmed",
			raw:  "6.8,450,23.5,55,19.2\r\n",
			mode: ArityStrict,
			want: []string{"6.8", "450", "23.5", "55", "19.2"},
		},
		{
			name: "spaces around fields trimmed",
			raw:  " 6.8, 450 ,23.5,55 ,19.2 ",
			mode: ArityStrict,
			want: []string{"6.8", "450", "23.5", "55", "19.2"},
		},
		{
			name: "non-numeric fields pass through",
			raw:  "6.8,abc,23.5,55,19.2",
			mode: ArityStrict,
			want: []string{"6.8", "abc", "23.5", "55", "19.2"},
		},
		{
			name:    "too few strict",
			raw:     "6.8,450",
			mode:    ArityStrict,
			wantErr: ErrArity,
		},
		{
			name:    "too many strict",
			raw:     "6.8,450,23.5,55,19.2,7",
			mode:    ArityStrict,
			wantErr: ErrArity,
		},
		{
			name: "extra fields at_least",
			raw:  "6.8,450,23.5,55,19.2,7",
			mode: ArityAtLeast,
			want: []string{"6.8", "450", "23.5", "55", "19.2"},
		},
		{
			name:    "too few at_least",
			raw:     "6.8,450,23.5,55",
			mode:    ArityAtLeast,
			wantErr: ErrArity,
		},
		{
			name:   "leading sequence column",
			raw:    "17,6.8,450,23.5,55,19.2",
			mode:   ArityStrict,
			offset: 1,
			want:   []string{"6.8", "450", "23.5", "55", "19.2"},
		},
		{
			name:    "blank frame",
			raw:     " \r\n",
			mode:    ArityStrict,
			wantErr: ErrEmpty,
		},
		{
			name:    "invalid utf8",
			raw:     "6.8,\xff\xfe,23.5,55,19.2",
			mode:    ArityStrict,
			wantErr: ErrInvalidUTF8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw), testSchema, tt.mode, tt.offset)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				if got != nil {
					t.Errorf("Decode() fields = %v, want nil on error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTextKeepsHandshakeToken(t *testing.T) {
	got, err := Text([]byte("HANDSHAKE_GROUP11\r\n"))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if got != "HANDSHAKE_GROUP11" {
		t.Errorf("Text() = %q, want %q", got, "HANDSHAKE_GROUP11")
	}
}

func TestParseArityMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ArityMode
		wantErr bool
	}{
		{"strict", ArityStrict, false},
		{"", ArityStrict, false},
		{"at_least", ArityAtLeast, false},
		{"loose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseArityMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArityMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseArityMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
