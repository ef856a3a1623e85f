// Package urn canonicalizes persistent identifiers into comparable keys.
package urn

import (
	"errors"
	"fmt"
	"strings"

	gourn "github.com/leodido/go-urn"
)

// ErrInvalid is returned for anything that is not a well-formed RFC 2141 URN.
var ErrInvalid = errors.New("invalid urn")

// nbnNamespace identifiers are case-insensitive end to end.
const nbnNamespace = "nbn"

// Normalize returns the canonical key for raw. The scheme and namespace are
// lower-cased, percent escapes are normalized and, for NBN urns, the
// namespace specific string is lower-cased too.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	parsed, ok := gourn.Parse([]byte(s))
	if !ok || parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	n := parsed.Normalize()
	nid := strings.ToLower(n.ID)
	nss := n.SS
	if nid == nbnNamespace {
		nss = strings.ToLower(nss)
	}
	return "urn:" + nid + ":" + nss, nil
}

// Valid reports whether raw normalizes without error.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}
