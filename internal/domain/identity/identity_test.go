package identity

import (
	"strconv"
	"testing"
)

func TestNewExternalID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 1; i <= 1000; i++ {
		id := NewExternalID()
		if !IsExternalID(id) {
			t.Fatalf("not a canonical id: %q", id)
		}
		if id == strconv.Itoa(i) {
			t.Fatalf("external id collides with sequence id %d", i)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"  dipirona ", "DIPIRONA"},
		{"ácido valproico", "ÁCIDO VALPROICO"},
		{"solução oral", "SOLUÇÃO ORAL"},
		{"tomar 1 comprimido\n", "TOMAR 1 COMPRIMIDO"},
	}

	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", " maria  da silva ", "straße", "ÁgUa", "\tjoão\n", "50mg/mL", "ﬁnal", "ǅemal",
	}

	for _, in := range inputs {
		once := NormalizeText(in)
		if twice := NormalizeText(once); twice != once {
			t.Errorf("NormalizeText not idempotent for %q: %q then %q", in, once, twice)
		}
		onceName := NormalizeName(in)
		if twice := NormalizeName(onceName); twice != onceName {
			t.Errorf("NormalizeName not idempotent for %q: %q then %q", in, onceName, twice)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  maria   da\tsilva "); got != "MARIA DA SILVA" {
		t.Errorf("NormalizeName = %q", got)
	}
}

func TestValidNationalID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"  ", true},
		{"12345678901", true},
		{"123.456.789-01", true},
		{"1234567890", false},
		{"123456789012", false},
		{"123.456.789-0A", false},
		{"abc", false},
	}

	for _, tt := range tests {
		if got := ValidNationalID(tt.in); got != tt.want {
			t.Errorf("ValidNationalID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatNationalID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12345678901", "123.456.789-01"},
		{"123.456.789-01", "123.456.789-01"},
		{"123 456 789 01", "123.456.789-01"},
		{"12345", "12345"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FormatNationalID(tt.in); got != tt.want {
			t.Errorf("FormatNationalID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
