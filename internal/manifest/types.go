// Package manifest defines module manifest entries and parses manifest files.
package manifest

// NounConstraint names a noun slot and the entity types it accepts.
// A constraint with no types accepts anything.
type NounConstraint struct {
	Name  string   `json:"name" yaml:"name"`
	Types []string `json:"types,omitempty" yaml:"types,omitempty"`
}

// Entry describes one module's capabilities.
type Entry struct {
	Binary          string           `json:"binary" yaml:"binary"`
	LocalName       string           `json:"local_name,omitempty" yaml:"local_name,omitempty"`
	Verb            string           `json:"verb" yaml:"verb"`
	NounConstraints []NounConstraint `json:"noun_constraints,omitempty" yaml:"noun_constraints,omitempty"`
}

// Accepts reports whether any of types is accepted by c.
func (c NounConstraint) Accepts(types []string) bool {
	if len(c.Types) == 0 {
		return true
	}
	for _, want := range c.Types {
		for _, got := range types {
			if want == got {
				return true
			}
		}
	}
	return false
}

// Constraint returns the constraint declared under name.
func (e Entry) Constraint(name string) (NounConstraint, bool) {
	for _, c := range e.NounConstraints {
		if c.Name == name {
			return c, true
		}
	}
	return NounConstraint{}, false
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	if e.NounConstraints != nil {
		out.NounConstraints = make([]NounConstraint, len(e.NounConstraints))
		for i, c := range e.NounConstraints {
			out.NounConstraints[i] = NounConstraint{Name: c.Name}
			if c.Types != nil {
				out.NounConstraints[i].Types = append([]string(nil), c.Types...)
			}
		}
	}
	return out
}
