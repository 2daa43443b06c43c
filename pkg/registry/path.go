package registry

import (
	"regexp"
	"strings"
)

// OverrideClear is the sentinel override value meaning "delete the field".
const OverrideClear = "*"

var pathRe = regexp.MustCompile(`^(/[-._0-9a-zA-Z]+)+$`)

// ValidatePath parses a `user?path` or bare `path` addressing form. The path
// part must be absolute with non-empty `[-._0-9a-zA-Z]` segments. Malformed
// input is rejected, never coerced.
func ValidatePath(raw string) (email, path string, ok bool) {
	path = raw
	if i := strings.Index(raw, "?"); i >= 0 {
		email = raw[:i]
		path = raw[i+1:]
		if email == "" || strings.Contains(path, "?") {
			return "", "", false
		}
	}
	if !pathRe.MatchString(path) {
		return "", "", false
	}
	return email, path, true
}

// AddressOverride resolves the effective address and port of a connection
// against per-association overrides. A non-empty override replaces the
// corresponding field; the OverrideClear sentinel deletes it. Callers must
// reject invalid override combinations first (see ValidOverrides).
func AddressOverride(address, port, overrideAddress, overridePort string) (string, string) {
	switch overrideAddress {
	case "":
	case OverrideClear:
		address = ""
	default:
		address = overrideAddress
	}
	switch overridePort {
	case "":
	case OverrideClear:
		port = ""
	default:
		port = overridePort
	}
	return address, port
}

// ValidOverrides reports whether the override pair is acceptable for the
// given role. A filesystem-socket port override (leading '/') cannot be
// combined with an address override, and the clear sentinel is only honored
// for the client role.
func ValidOverrides(server bool, overrideAddress, overridePort string) bool {
	if strings.HasPrefix(overridePort, "/") && overrideAddress != "" {
		return false
	}
	if server && (overrideAddress == OverrideClear || overridePort == OverrideClear) {
		return false
	}
	return true
}
