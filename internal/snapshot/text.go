package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/kamusis/modres/internal/manifest"
)

// CanonicalText returns the canonical text an entry's content hash is computed over.
// Constraint types are sorted so that type order does not change the hash.
func CanonicalText(e manifest.Entry) string {
	parts := []string{
		"binary: " + e.Binary,
		"local_name: " + e.LocalName,
		"verb: " + e.Verb,
	}
	for _, c := range e.NounConstraints {
		types := append([]string(nil), c.Types...)
		sort.Strings(types)
		parts = append(parts, "noun: "+c.Name+" = "+strings.Join(types, ","))
	}
	return strings.Join(parts, "\n")
}

// ContentHash returns a sha256 hash (hex) of the entry's canonical text.
func ContentHash(e manifest.Entry) string {
	h := sha256.Sum256([]byte(CanonicalText(e)))
	return hex.EncodeToString(h[:])
}
