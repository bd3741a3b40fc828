package authsecret

import (
	"testing"
)

func TestNewAndParse(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	str := s.String()
	parsed, err := Parse(str)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.ID() != s.ID() {
		t.Errorf("expected ID %s, got %s", s.ID(), parsed.ID())
	}
	if parsed.Version() != s.Version() {
		t.Errorf("expected version %d, got %d", s.Version(), parsed.Version())
	}
	if parsed.String() != str {
		t.Errorf("expected round trip %s, got %s", str, parsed.String())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		str  string
	}{
		{"Empty", ""},
		{"WrongPrefix", "X1-ABCDEF-ABCDEF-ABCDE-ABCDE-ABCDE-ABCDE"},
		{"TooShortID", "P1-ABCDE-ABCDEF-ABCDE-ABCDE-ABCDE-ABCDE"},
		{"TooLongID", "P1-ABCDEFG-ABCDEF-ABCDE-ABCDE-ABCDE-ABCDE"},
		{"InvalidChars", "P1-ABC!@#-ABCDEF-ABCDE-ABCDE-ABCDE-ABCDE"},
		{"WrongSegmentCount", "P1-ABCDEF-ABCDEF-ABCDE-ABCDE-ABCDE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.str)
			if err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.str)
			}
		})
	}
}

func TestNew_Distinct(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.String() == b.String() {
		t.Error("two generated secrets are identical")
	}
}

func TestEqual(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !Equal(s.String(), s.String()) {
		t.Error("secret does not equal itself")
	}
	other, _ := New()
	if Equal(s.String(), other.String()) {
		t.Error("distinct secrets compare equal")
	}
	if Equal(s.String(), "") {
		t.Error("empty string compares equal")
	}
}
