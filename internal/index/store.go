// Package index aggregates manifest entries from all sources into lookup
// structures. It is a cache: everything in it is derived from the entries
// the sources reported.
package index

import (
	"sort"
	"sync"

	"github.com/kamusis/modres/internal/manifest"
)

// Key identifies an entry within its source.
type Key struct {
	Source  string `json:"source"`
	EntryID string `json:"entry_id"`
}

// Record is an indexed entry together with its key.
type Record struct {
	Key
	Entry manifest.Entry `json:"entry"`
}

type nounKey struct {
	name string
	typ  string
}

type keySet map[Key]struct{}

// Store holds manifest entries keyed by (source, entry id) with a verb index
// and a secondary (noun name, type) index. It is safe for concurrent use;
// every mutation of a single key is atomic with respect to lookups.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]manifest.Entry
	byVerb  map[string]keySet
	byNoun  map[nounKey]keySet
	rank    map[string]int
	next    int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[Key]manifest.Entry),
		byVerb:  make(map[string]keySet),
		byNoun:  make(map[nounKey]keySet),
		rank:    make(map[string]int),
	}
}

// RegisterSource fixes the ordering rank of a source. Sources that are never
// registered get a rank on their first upsert.
func (s *Store) RegisterSource(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(source)
}

func (s *Store) registerLocked(source string) {
	if _, ok := s.rank[source]; !ok {
		s.rank[source] = s.next
		s.next++
	}
}

// Upsert inserts e under (source, entryID), replacing any previous entry.
func (s *Store) Upsert(source, entryID string, e manifest.Entry) {
	k := Key{Source: source, EntryID: entryID}
	e = e.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(source)
	if old, ok := s.entries[k]; ok {
		s.unindexLocked(k, old)
	}
	s.entries[k] = e
	s.indexLocked(k, e)
}

// Remove deletes the entry under (source, entryID). Removing an unknown key
// is not an error; the return value reports whether anything was removed.
func (s *Store) Remove(source, entryID string) bool {
	k := Key{Source: source, EntryID: entryID}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.entries[k]
	if !ok {
		return false
	}
	s.unindexLocked(k, old)
	delete(s.entries, k)
	return true
}

// RemoveSource deletes every entry of source and its rank, and returns how
// many entries were removed. A source registered again later ranks last.
func (s *Store) RemoveSource(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rank, source)
	n := 0
	for k, e := range s.entries {
		if k.Source != source {
			continue
		}
		s.unindexLocked(k, e)
		delete(s.entries, k)
		n++
	}
	return n
}

// Get returns the entry stored under (source, entryID).
func (s *Store) Get(source, entryID string) (manifest.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[Key{Source: source, EntryID: entryID}]
	if !ok {
		return manifest.Entry{}, false
	}
	return e.Clone(), true
}

// LookupByVerb returns the entries declaring verb, in index order.
func (s *Store) LookupByVerb(verb string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byVerb[verb])
}

// LookupByNounType returns the entries with a noun constraint called name
// that accepts typ, in index order.
func (s *Store) LookupByNounType(name, typ string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byNoun[nounKey{name: name, typ: typ}])
}

// LookupByType returns the entries with any noun constraint accepting one of
// types, in index order.
func (s *Store) LookupByType(types ...string) []Record {
	want := make(map[string]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := keySet{}
	for nk, set := range s.byNoun {
		if _, ok := want[nk.typ]; !ok {
			continue
		}
		for k := range set {
			keys[k] = struct{}{}
		}
	}
	return s.collectLocked(keys)
}

// All returns every entry in index order.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(keySet, len(s.entries))
	for k := range s.entries {
		keys[k] = struct{}{}
	}
	return s.collectLocked(keys)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CountBySource returns the number of entries per source.
func (s *Store) CountBySource() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for k := range s.entries {
		out[k.Source]++
	}
	return out
}

func (s *Store) indexLocked(k Key, e manifest.Entry) {
	addKey(s.byVerb, e.Verb, k)
	for _, c := range e.NounConstraints {
		for _, t := range c.Types {
			addKey(s.byNoun, nounKey{name: c.Name, typ: t}, k)
		}
	}
}

func (s *Store) unindexLocked(k Key, e manifest.Entry) {
	removeKey(s.byVerb, e.Verb, k)
	for _, c := range e.NounConstraints {
		for _, t := range c.Types {
			removeKey(s.byNoun, nounKey{name: c.Name, typ: t}, k)
		}
	}
}

// collectLocked copies the entries for keys and orders them by source rank,
// then entry id.
func (s *Store) collectLocked(keys keySet) []Record {
	out := make([]Record, 0, len(keys))
	for k := range keys {
		out = append(out, Record{Key: k, Entry: s.entries[k].Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := s.rank[out[i].Source], s.rank[out[j].Source]
		if ri != rj {
			return ri < rj
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

func addKey[K comparable](m map[K]keySet, bucket K, k Key) {
	set, ok := m[bucket]
	if !ok {
		set = keySet{}
		m[bucket] = set
	}
	set[k] = struct{}{}
}

func removeKey[K comparable](m map[K]keySet, bucket K, k Key) {
	set, ok := m[bucket]
	if !ok {
		return
	}
	delete(set, k)
	if len(set) == 0 {
		delete(m, bucket)
	}
}
