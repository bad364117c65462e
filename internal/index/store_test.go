package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kamusis/modres/internal/manifest"
)

func entry(binary, verb string, constraints ...manifest.NounConstraint) manifest.Entry {
	return manifest.Entry{Binary: binary, LocalName: binary, Verb: verb, NounConstraints: constraints}
}

func binaries(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Entry.Binary)
	}
	return out
}

func TestStore_UpsertReplacesInPlace(t *testing.T) {
	s := NewStore()
	s.Upsert("test1", "1", entry("id1", "verb1"))
	s.Upsert("test1", "1", entry("id1", "verb1"))

	require.Equal(t, 1, s.Len())
	require.Equal(t, []string{"id1"}, binaries(s.LookupByVerb("verb1")))
}

func TestStore_UpsertMovesVerbBucket(t *testing.T) {
	s := NewStore()
	s.Upsert("src", "a", entry("m", "old",
		manifest.NounConstraint{Name: "start", Types: []string{"foo"}}))
	s.Upsert("src", "a", entry("m", "new",
		manifest.NounConstraint{Name: "start", Types: []string{"bar"}}))

	require.Empty(t, s.LookupByVerb("old"))
	require.Equal(t, []string{"m"}, binaries(s.LookupByVerb("new")))
	require.Empty(t, s.LookupByNounType("start", "foo"))
	require.Equal(t, []string{"m"}, binaries(s.LookupByNounType("start", "bar")))
}

func TestStore_RemoveUnknownIsNoop(t *testing.T) {
	s := NewStore()
	require.False(t, s.Remove("nope", "1"))

	s.Upsert("src", "1", entry("m", "v"))
	require.True(t, s.Remove("src", "1"))
	require.False(t, s.Remove("src", "1"))
	require.Empty(t, s.LookupByVerb("v"))
	require.Zero(t, s.Len())
}

func TestStore_OrderingBySourceRankThenEntryID(t *testing.T) {
	s := NewStore()
	s.RegisterSource("zeta")
	s.RegisterSource("alpha")

	s.Upsert("alpha", "b", entry("alpha-b", "v"))
	s.Upsert("zeta", "manifest2", entry("zeta-2", "v"))
	s.Upsert("alpha", "a", entry("alpha-a", "v"))
	s.Upsert("zeta", "manifest0", entry("zeta-0", "v"))
	// Unregistered sources rank after registered ones, in first-seen order.
	s.Upsert("late", "x", entry("late-x", "v"))

	require.Equal(t,
		[]string{"zeta-0", "zeta-2", "alpha-a", "alpha-b", "late-x"},
		binaries(s.LookupByVerb("v")))
}

func TestStore_RemoveSource(t *testing.T) {
	s := NewStore()
	s.Upsert("a", "1", entry("a1", "v"))
	s.Upsert("a", "2", entry("a2", "w"))
	s.Upsert("b", "1", entry("b1", "v"))

	require.Equal(t, 2, s.RemoveSource("a"))
	require.Equal(t, []string{"b1"}, binaries(s.All()))
	require.Equal(t, map[string]int{"b": 1}, s.CountBySource())
	require.Empty(t, s.LookupByVerb("w"))
}

func TestStore_ReRegisteredSourceRanksLast(t *testing.T) {
	s := NewStore()
	s.RegisterSource("a")
	s.RegisterSource("b")
	s.RegisterSource("c")
	s.Upsert("a", "1", entry("a1", "v"))
	s.Upsert("b", "1", entry("b1", "v"))
	s.Upsert("c", "1", entry("c1", "v"))

	s.RemoveSource("a")
	s.RegisterSource("a")
	s.Upsert("a", "1", entry("a1", "v"))
	require.Equal(t, []string{"b1", "c1", "a1"}, binaries(s.LookupByVerb("v")))

	// Removing a middle source must not let a new source tie with a survivor.
	s.RemoveSource("b")
	s.RegisterSource("d")
	s.Upsert("d", "1", entry("d1", "v"))
	require.Equal(t, []string{"c1", "a1", "d1"}, binaries(s.LookupByVerb("v")))
}

func TestStore_LookupByType(t *testing.T) {
	s := NewStore()
	s.Upsert("src", "1", entry("module1", "navigate",
		manifest.NounConstraint{Name: "start", Types: []string{"foo", "bar"}},
		manifest.NounConstraint{Name: "destination", Types: []string{"baz"}}))
	s.Upsert("src", "2", entry("module2", "navigate",
		manifest.NounConstraint{Name: "start", Types: []string{"frob"}}))
	s.Upsert("src", "3", entry("module3", "exist",
		manifest.NounConstraint{Name: "with", Types: []string{"baz"}}))

	require.Equal(t, []string{"module1", "module3"}, binaries(s.LookupByType("baz")))
	require.Equal(t, []string{"module1", "module2"}, binaries(s.LookupByType("foo", "frob")))
	require.Equal(t, []string{"module3"}, binaries(s.LookupByNounType("with", "baz")))
	require.Empty(t, s.LookupByType("nothing"))
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Upsert("src", "1", entry("m", "v", manifest.NounConstraint{Name: "n", Types: []string{"t"}}))

	got := s.LookupByVerb("v")
	got[0].Entry.NounConstraints[0].Types[0] = "mutated"

	e, ok := s.Get("src", "1")
	require.True(t, ok)
	require.Equal(t, "t", e.NounConstraints[0].Types[0])
}

func TestStore_ConcurrentMutationAndLookup(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			src := fmt.Sprintf("src%d", w)
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("%03d", i%20)
				s.Upsert(src, id, entry(src+id, "v"))
				if i%3 == 0 {
					s.Remove(src, id)
				}
				for _, r := range s.LookupByVerb("v") {
					// A record is never observed half-written.
					if r.Entry.Binary != r.Source+r.EntryID {
						t.Errorf("torn record %+v", r)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, s.Len(), 80)
}
