package dir

import (
	"fmt"
	"strings"
)

// Mode selects how caller supplied paths map to stored names.
type Mode int

const (
	// Flat keeps only the final path component; "/docs/a.txt" and
	// "a.txt" address the same entry.
	Flat Mode = iota

	// Hierarchical keeps the full cleaned path as the name, so a tree
	// view can be derived for display.
	Hierarchical
)

// String returns the mode name for configs and logs.
func (m Mode) String() string {
	switch m {
	case Flat:
		return "flat"
	case Hierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "":
		return Flat, nil
	case "hierarchical", "tree":
		return Hierarchical, nil
	default:
		return Flat, fmt.Errorf("%w: unknown namespace mode %q", ErrBadName, s)
	}
}

// forbidden characters inside a single path component. Separators are
// handled by Normalize, control bytes by the scan below.
const forbiddenChars = `<>:"|?*\`

// reservedNames cannot be used as components, case insensitive.
var reservedNames = map[string]struct{}{
	"CON": {},
	"PRN": {},
	"AUX": {},
	"NUL": {},
	".":   {},
	"..":  {},
}

// Normalize turns a caller supplied path into the stored name for the
// given mode. Leading, trailing and repeated separators are dropped,
// every component is validated, and the result is bounded by
// [MaxNameLen]. Failures wrap [ErrBadName].
func Normalize(path string, mode Mode) (string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty name", ErrBadName)
	}

	if mode == Flat {
		parts = parts[len(parts)-1:]
	}

	for _, part := range parts {
		if err := ValidateComponent(part); err != nil {
			return "", err
		}
	}

	name := strings.Join(parts, "/")
	if len(name) > MaxNameLen {
		return "", fmt.Errorf("%w: %q exceeds %d bytes", ErrBadName, name, MaxNameLen)
	}

	return name, nil
}

// ValidateComponent checks a single path component against the naming
// rules. Failures wrap [ErrBadName].
func ValidateComponent(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty component", ErrBadName)
	}

	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrBadName, name, MaxNameLen)
	}

	for i := range len(name) {
		c := name[i]

		if c < 0x20 || c == 0x7F {
			return fmt.Errorf("%w: %q contains a control character", ErrBadName, name)
		}

		if strings.IndexByte(forbiddenChars, c) >= 0 {
			return fmt.Errorf("%w: %q contains %q", ErrBadName, name, c)
		}
	}

	if _, ok := reservedNames[strings.ToUpper(name)]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrBadName, name)
	}

	return nil
}

// splitPath breaks a path into non empty, trimmed components.
func splitPath(path string) []string {
	var parts []string

	for _, p := range strings.Split(path, "/") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}

	return parts
}
