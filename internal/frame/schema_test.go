package frame

import "testing"

func TestNewSchema(t *testing.T) {
	s, err := NewSchema([]string{"co2", " light ", "humidity"})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if s.Name(1) != "light" {
		t.Errorf("Name(1) = %q, want %q", s.Name(1), "light")
	}

	names := s.Names()
	names[0] = "mutated"
	if s.Name(0) != "co2" {
		t.Error("Names() should return a copy")
	}
}

func TestNewSchemaRejects(t *testing.T) {
	tests := map[string][]string{
		"empty":     nil,
		"blank":     {"pH", " "},
		"duplicate": {"pH", "TDS", "pH"},
	}
	for name, names := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSchema(names); err == nil {
				t.Errorf("NewSchema(%v) should fail", names)
			}
		})
	}
}
