package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "led_controller", false},
		{"dashes and dots", "room-1.sensor", false},
		{"max length", strings.Repeat("a", maxNameLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", maxNameLength+1), true},
		{"space", "led controller", true},
		{"slash", "room/led", true},
		{"plus", "led+", true},
		{"hash", "#led", true},
		{"control char", "led\x00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range AllTypes() {
		got, err := ParseType(" " + strings.ToUpper(string(typ)) + " ")
		if err != nil || got != typ {
			t.Errorf("ParseType(%q) = %q, %v", typ, got, err)
		}
	}
	if _, err := ParseType("toaster"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("ParseType(toaster) error = %v, want ErrInvalidType", err)
	}
}
