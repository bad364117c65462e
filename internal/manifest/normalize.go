package manifest

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize trims s and converts it to Unicode NFC so identifiers that render
// the same compare equal.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeAll normalizes every element of ss, dropping empty results.
func NormalizeAll(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Normalized returns a copy of e with its verb, noun names and types normalized.
func (e Entry) Normalized() Entry {
	out := e.Clone()
	out.Binary = strings.TrimSpace(out.Binary)
	out.LocalName = strings.TrimSpace(out.LocalName)
	out.Verb = Normalize(out.Verb)
	for i := range out.NounConstraints {
		out.NounConstraints[i].Name = Normalize(out.NounConstraints[i].Name)
		out.NounConstraints[i].Types = NormalizeAll(out.NounConstraints[i].Types)
	}
	return out
}

// Excluded reports whether a file name should be ignored when scanning a
// manifest directory. Hidden files are always excluded.
func Excluded(name string, patterns []string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
