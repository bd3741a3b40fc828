// Package authsecret implements the relay-issued registration secret: a
// versioned, formatted string a user can read back or re-enter when
// moving a registration to a new device. The leading ID segment is safe
// to log; the remaining segments are the secret material.
package authsecret

import (
	"crypto/subtle"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/publicpass/publicpass/internal/util"
)

const (
	version      = 1
	idLength     = 6
	secretLength = 26
)

var secretRE = regexp.MustCompile(`^P(\d)-([A-Za-z0-9]{6})-([A-Za-z0-9]{6})-([A-Za-z0-9]{5})-([A-Za-z0-9]{5})-([A-Za-z0-9]{5})-([A-Za-z0-9]{5})$`)

// Secret is a parsed auth secret.
type Secret struct {
	version int
	id      string
	secret  string
}

// New generates a fresh auth secret.
func New() (*Secret, error) {
	id, err := util.RandomChars(idLength)
	if err != nil {
		return nil, fmt.Errorf("generating secret id: %w", err)
	}
	secret, err := util.RandomChars(secretLength)
	if err != nil {
		return nil, fmt.Errorf("generating secret material: %w", err)
	}
	return &Secret{version: version, id: id, secret: secret}, nil
}

// Parse parses a secret from its formatted string form.
func Parse(str string) (*Secret, error) {
	matches := secretRE.FindStringSubmatch(str)
	if matches == nil {
		return nil, fmt.Errorf("invalid auth secret format")
	}
	v, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("parsing version: %w", err)
	}
	return &Secret{
		version: v,
		id:      matches[2],
		secret:  strings.Join(matches[3:], ""),
	}, nil
}

// String renders the secret in its canonical grouped form.
func (s *Secret) String() string {
	return fmt.Sprintf("P%d-%s-%s-%s-%s-%s-%s",
		s.version, s.id,
		s.secret[0:6], s.secret[6:11], s.secret[11:16],
		s.secret[16:21], s.secret[21:26])
}

// Version returns the format version.
func (s *Secret) Version() int { return s.version }

// ID returns the log-safe identifier segment.
func (s *Secret) ID() string { return s.id }

// Equal compares two formatted secrets in constant time. Either string
// may be in any format; unparseable input never matches.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
