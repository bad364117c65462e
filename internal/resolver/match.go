package resolver

import (
	"github.com/kamusis/modres/internal/manifest"
)

// resolvedNoun is a query noun reduced to its types. ok is false when the
// noun's JSON could not be read, which makes it unsatisfiable.
type resolvedNoun struct {
	types []string
	ok    bool
}

func resolveNouns(nouns map[string]Noun) map[string]resolvedNoun {
	out := make(map[string]resolvedNoun, len(nouns))
	for name, n := range nouns {
		out[manifest.Normalize(name)] = resolveNoun(n)
	}
	return out
}

func resolveNoun(n Noun) resolvedNoun {
	if n.JSON != "" {
		types, err := manifest.ExtractTypes(n.JSON)
		if err != nil {
			return resolvedNoun{}
		}
		return resolvedNoun{types: types, ok: true}
	}
	return resolvedNoun{types: manifest.NormalizeAll(n.Types), ok: true}
}

// matches reports whether e can take the query nouns. Every query noun that
// e constrains must intersect the constraint's types. Constraints the query
// does not mention and query nouns e does not declare are ignored.
func matches(e manifest.Entry, nouns map[string]resolvedNoun) bool {
	for _, c := range e.NounConstraints {
		n, ok := nouns[c.Name]
		if !ok {
			continue
		}
		if !n.ok {
			return false
		}
		if !c.Accepts(n.types) {
			return false
		}
	}
	return true
}
