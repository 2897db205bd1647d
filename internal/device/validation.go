package device

import (
	"fmt"
	"strings"
	"unicode"
)

// maxNameLength bounds device and group names. Names appear in MQTT topics
// and URL paths.
const maxNameLength = 63

// Pre-computed validation set for O(1) lookups.
var validTypes map[Type]struct{}

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}
}

// ValidateName checks a device or group name.
//
// A valid name is 1..63 bytes of printable, non-space characters and contains
// none of the MQTT topic metacharacters "/", "+" and "#".
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), maxNameLength)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q contains a non-printable or space character", ErrInvalidName, name)
		}
	}
	if strings.ContainsAny(name, "/+#") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidName, name)
	}
	return nil
}

// ValidateType checks a device type.
func ValidateType(t Type) error {
	if _, ok := validTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return nil
}

// ParseType converts a case-insensitive string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidateType(t); err != nil {
		return "", err
	}
	return t, nil
}
