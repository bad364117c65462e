package resolver

// ResolutionFailed is the module id of the fallback result returned when no
// manifest entry satisfies a query.
const ResolutionFailed = "resolution_failed"

// Noun is a query noun value: either explicit entity types or JSON content
// whose @type field carries the types. JSON wins when both are set.
type Noun struct {
	Types []string `json:"types,omitempty"`
	JSON  string   `json:"json,omitempty"`
}

// NounTypes returns a Noun made of entity types.
func NounTypes(types ...string) Noun { return Noun{Types: types} }

// NounJSON returns a Noun made of JSON content.
func NounJSON(content string) Noun { return Noun{JSON: content} }

// Query ("Daisy") asks for modules that perform Verb on the given nouns.
type Query struct {
	Verb  string          `json:"verb"`
	Nouns map[string]Noun `json:"nouns,omitempty"`
}

// NewQuery returns a query for verb with no nouns.
func NewQuery(verb string) Query {
	return Query{Verb: verb, Nouns: map[string]Noun{}}
}

// WithTypes adds a noun made of entity types.
func (q Query) WithTypes(name string, types ...string) Query {
	return q.with(name, NounTypes(types...))
}

// WithJSON adds a noun made of JSON content.
func (q Query) WithJSON(name, content string) Query {
	return q.with(name, NounJSON(content))
}

func (q Query) with(name string, n Noun) Query {
	nouns := make(map[string]Noun, len(q.Nouns)+1)
	for k, v := range q.Nouns {
		nouns[k] = v
	}
	nouns[name] = n
	q.Nouns = nouns
	return q
}

// ModuleResult is one resolved module.
type ModuleResult struct {
	ModuleID     string          `json:"module_id"`
	LocalName    string          `json:"local_name,omitempty"`
	Source       string          `json:"source,omitempty"`
	EntryID      string          `json:"entry_id,omitempty"`
	InitialNouns map[string]Noun `json:"initial_nouns,omitempty"`
}

// FindModulesResult is the answer to a query. Modules is never empty.
type FindModulesResult struct {
	Modules []ModuleResult `json:"modules"`
}

// Fallback reports whether the result is the resolution_failed sentinel.
func (r FindModulesResult) Fallback() bool {
	return len(r.Modules) == 1 && r.Modules[0].ModuleID == ResolutionFailed
}

// ModuleIDs lists the module ids in order.
func (r FindModulesResult) ModuleIDs() []string {
	out := make([]string, 0, len(r.Modules))
	for _, m := range r.Modules {
		out = append(out, m.ModuleID)
	}
	return out
}
