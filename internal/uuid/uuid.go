// Package uuid generates record identifiers.
//
// Random identifiers are UUID v4. Identifiers that must be reproducible
// across sync runs (generated items) are UUID v5 derived from their parts.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Namespace scopes derived identifiers to this application.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://pagesync.dev/ids"))

// UUID v4 or v5: xxxxxxxx-xxxx-[45]xxx-yxxx-xxxxxxxxxxxx, y in [89ab].
var idRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[45][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new random UUID v4.
func New() string {
	return uuid.New().String()
}

// Derive returns the UUID v5 of parts joined by "|" in Namespace.
// The same parts always yield the same identifier.
func Derive(parts ...string) string {
	return uuid.NewSHA1(Namespace, []byte(strings.Join(parts, "|"))).String()
}

// Parse parses s, accepting only the versions this package generates.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if v := id.Version(); v != 4 && v != 5 {
		return uuid.Nil, fmt.Errorf("expected UUID v4 or v5, got v%d", v)
	}
	return id, nil
}

// IsValid checks if a string is a canonical UUID v4 or v5.
func IsValid(s string) bool {
	return idRegex.MatchString(s)
}

// Validate returns an error if the string is not a canonical UUID v4 or v5.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
