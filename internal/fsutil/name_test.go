package fsutil

import (
	"strings"
	"testing"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Cup", "Cup"},
		{"Office Chair", "Office_Chair"},
		{"Cup/cup 1.obj", "Cup_cup_1.obj"},
		{"../../etc/passwd", "etc_passwd"},
		{"a  &&  b", "a_b"},
		{"  spaced  ", "spaced"},
		{"Tête", "T_te"},
		{"", "unnamed"},
		{"...", "unnamed"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeNameLength(t *testing.T) {
	got := SafeName(strings.Repeat("x", 500))
	if len(got) != maxNameLen {
		t.Errorf("len = %d, want %d", len(got), maxNameLen)
	}
}
