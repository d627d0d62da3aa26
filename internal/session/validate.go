package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

// Session names usually follow a case number, e.g. "case-2024.118".
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,47}$`)

// maxSocketPath is the smallest sun_path limit among supported platforms
// (104 bytes on darwin, including the terminator).
const maxSocketPath = 103

// ValidateName checks that name is a usable session name and that the
// session's socket path fits in a unix socket address.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-48 of [a-z0-9._-], starting with a letter or digit", ErrInvalidName, name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("%w %q: socket path %s is %d bytes, limit is %d; set %s to a shorter directory",
			ErrInvalidName, name, p, len(p), maxSocketPath, HomeEnv)
	}
	return nil
}
