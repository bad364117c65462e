package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/kamusis/modres/internal/manifest"
	"github.com/kamusis/modres/internal/snapshot"
	"github.com/kamusis/modres/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	navigateVerb = "com.google.fuchsia.navigate.v1"
	existVerb    = "com.google.fuchsia.exist.vinfinity"
)

var testManifests = []string{
	`{
  "binary": "module1",
  "local_name": "module1",
  "verb": "com.google.fuchsia.navigate.v1",
  "noun_constraints": [
    {"name": "start", "types": ["foo", "bar"]},
    {"name": "destination", "types": ["baz"]}
  ]
}`,
	`{
  "binary": "module2",
  "local_name": "module2",
  "verb": "com.google.fuchsia.navigate.v1",
  "noun_constraints": [
    {"name": "start", "types": ["frob"]},
    {"name": "destination", "types": ["froozle"]}
  ]
}`,
	`{
  "binary": "module3",
  "local_name": "module3",
  "verb": "com.google.fuchsia.exist.vinfinity",
  "noun_constraints": [
    {"name": "with", "types": ["companionCube"]}
  ]
}`,
}

// manualSource hands its handler to the test and reports nothing by itself.
type manualSource struct {
	mu     sync.Mutex
	h      source.Handler
	closed bool
}

func (s *manualSource) Watch(_ context.Context, h source.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
	return nil
}

func (s *manualSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *manualSource) handler() source.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

type fixture struct {
	t        *testing.T
	repoDir  string
	written  []string
	names    []string
	sources  map[string]source.Source
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, repoDir: t.TempDir(), sources: make(map[string]source.Source)}
	for i, content := range testManifests {
		f.writeManifest("manifest"+strconv.Itoa(i), content)
	}
	return f
}

func (f *fixture) writeManifest(name, content string) {
	f.t.Helper()
	path := filepath.Join(f.repoDir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	f.written = append(f.written, path)
}

func (f *fixture) removeManifestFiles() {
	for _, path := range f.written {
		require.NoError(f.t, os.Remove(path))
	}
	f.written = nil
}

// addSource registers a source to be attached by reset, after the directory source.
func (f *fixture) addSource(name string, src source.Source) {
	f.names = append(f.names, name)
	f.sources[name] = src
}

func (f *fixture) reset(opts ...Option) *Resolver {
	f.t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(f.t))}, opts...)
	r := New(opts...)
	dir := source.NewDirectory(f.repoDir, source.WithDebounce(20*time.Millisecond))
	require.NoError(f.t, r.AddSource("__test_dir", dir))
	for _, name := range f.names {
		require.NoError(f.t, r.AddSource(name, f.sources[name]))
	}
	require.NoError(f.t, r.Start(context.Background()))
	f.t.Cleanup(func() { require.NoError(f.t, r.Close()) })
	f.resolver = r
	return r
}

func (f *fixture) find(q Query) FindModulesResult {
	f.t.Helper()
	res := f.resolver.FindModules(context.Background(), q)
	require.NotEmpty(f.t, res.Modules, "query %+v", q)
	return res
}

func requireFallback(t *testing.T, res FindModulesResult) {
	t.Helper()
	require.Len(t, res.Modules, 1)
	require.Equal(t, ResolutionFailed, res.Modules[0].ModuleID)
	require.True(t, res.Fallback())
}

func TestFindModules_NoMatchReturnsFallback(t *testing.T) {
	f := newFixture(t)
	f.reset()

	requireFallback(t, f.find(NewQuery("no matchy!")))
}

func TestFindModules_SimpleVerb(t *testing.T) {
	f := newFixture(t)
	f.reset()

	res := f.find(NewQuery(navigateVerb))
	require.Equal(t, []string{"module1", "module2"}, res.ModuleIDs())

	// Remove the manifest files and we should see no more results.
	f.removeManifestFiles()
	require.Eventually(t, func() bool {
		return f.resolver.FindModules(context.Background(), NewQuery(navigateVerb)).Fallback()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFindModules_SimpleNounTypes(t *testing.T) {
	f := newFixture(t)
	f.reset()

	// Either 'foo' or 'tangoTown' would be acceptable types. Only 'foo' will
	// actually match.
	res := f.find(NewQuery(navigateVerb).WithTypes("start", "foo", "tangoTown"))
	require.Equal(t, []string{"module1"}, res.ModuleIDs())

	// Matches one of module1's two constraints but not both.
	res = f.find(NewQuery(navigateVerb).
		WithTypes("start", "foo", "tangoTown").
		WithTypes("destination", "notbaz"))
	requireFallback(t, res)
}

func TestFindModules_SimpleJSONNouns(t *testing.T) {
	f := newFixture(t)
	f.reset()

	q := NewQuery(navigateVerb).
		WithJSON("start", `{"@type": ["foo", "tangoTown"], "thecake": "is a lie"}`).
		WithJSON("destination", `{"@type": "baz", "really": "it is"}`)
	res := f.find(q)
	require.Equal(t, []string{"module1"}, res.ModuleIDs())
	if diff := cmp.Diff(q.Nouns, res.Modules[0].InitialNouns); diff != "" {
		t.Fatalf("initial nouns mismatch (-want +got):\n%s", diff)
	}

	// The same query with explicit types resolves identically.
	typed := f.find(NewQuery(navigateVerb).
		WithTypes("start", "foo", "tangoTown").
		WithTypes("destination", "baz"))
	require.Equal(t, res.ModuleIDs(), typed.ModuleIDs())
}

func TestFindModules_ReAddExistingEntries(t *testing.T) {
	// Adding the same entry twice, as could happen during a reconnect, keeps
	// exactly one module available.
	f := newFixture(t)
	src := source.NewMemory(nil)
	f.addSource("test1", src)
	f.reset()

	entry := manifest.Entry{Binary: "id1", Verb: "verb1"}
	src.Add("1", entry)
	src.Idle()
	require.Equal(t, []string{"id1"}, f.find(NewQuery("verb1")).ModuleIDs())

	src.Add("1", entry)
	require.Equal(t, []string{"id1"}, f.find(NewQuery("verb1")).ModuleIDs())
}

func TestFindModules_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.reset()

	require.Equal(t, []string{"module1", "module2"}, f.find(NewQuery(navigateVerb)).ModuleIDs())
	require.Equal(t, []string{"module1"}, f.find(NewQuery(navigateVerb).WithTypes("start", "foo", "tangoTown")).ModuleIDs())
	require.Equal(t, []string{"module3"}, f.find(NewQuery(existVerb).WithTypes("with", "companionCube")).ModuleIDs())
	requireFallback(t, f.find(NewQuery("no matchy!")))

	res := f.find(NewQuery(navigateVerb))
	require.Equal(t, "__test_dir", res.Modules[0].Source)
	require.Equal(t, "manifest0", res.Modules[0].EntryID)
	require.Equal(t, "module1", res.Modules[0].LocalName)
}

func TestFindModules_ExtraQueryNounsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.reset()

	res := f.find(NewQuery(navigateVerb).WithTypes("vehicle", "bicycle"))
	require.Equal(t, []string{"module1", "module2"}, res.ModuleIDs())
}

func TestFindModules_MalformedJSONNoun(t *testing.T) {
	f := newFixture(t)
	f.reset()

	// Both navigate modules constrain "start", so a broken start noun rules them out.
	requireFallback(t, f.find(NewQuery(navigateVerb).WithJSON("start", `{"@type": [`)))
	requireFallback(t, f.find(NewQuery(navigateVerb).WithJSON("start", `{"no": "type"}`)))

	// A broken noun nobody constrains is ignored.
	res := f.find(NewQuery(navigateVerb).WithJSON("unrelated", `not json`))
	require.Equal(t, []string{"module1", "module2"}, res.ModuleIDs())
}

func TestFindModules_EmptyVerbAndUntypedConstraint(t *testing.T) {
	f := newFixture(t)
	f.addSource("mem", source.NewMemory(map[string]manifest.Entry{
		"blank": {Binary: "blank-verb"},
		"any": {Binary: "takes-anything", Verb: "share",
			NounConstraints: []manifest.NounConstraint{{Name: "what"}}},
	}))
	f.reset()

	require.Equal(t, []string{"blank-verb"}, f.find(NewQuery("")).ModuleIDs())
	require.Equal(t, []string{"takes-anything"}, f.find(NewQuery("share").WithTypes("what", "whatever")).ModuleIDs())
}

func TestFindModules_NormalizesQuery(t *testing.T) {
	f := newFixture(t)
	f.addSource("mem", source.NewMemory(map[string]manifest.Entry{
		"1": {Binary: "cafe-module", Verb: "café",
			NounConstraints: []manifest.NounConstraint{{Name: "drink", Types: []string{"crème"}}}},
	}))
	f.reset()

	res := f.find(NewQuery(" café ").WithTypes("drink", "crème"))
	require.Equal(t, []string{"cafe-module"}, res.ModuleIDs())
}

func TestFindModules_IdleGating(t *testing.T) {
	src := &manualSource{}
	r := New(WithLogger(zaptest.NewLogger(t)), WithIdleGating(true))
	require.NoError(t, r.AddSource("slow", src))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	done := make(chan FindModulesResult, 1)
	go func() { done <- r.FindModules(context.Background(), NewQuery("verb1")) }()

	select {
	case <-done:
		t.Fatal("query answered before the source went idle")
	case <-time.After(50 * time.Millisecond):
	}

	h := src.handler()
	h.OnNewEntry("1", manifest.Entry{Binary: "id1", Verb: "verb1"})
	h.OnIdle()

	select {
	case res := <-done:
		require.Equal(t, []string{"id1"}, res.ModuleIDs())
	case <-time.After(5 * time.Second):
		t.Fatal("query still blocked after idle")
	}
}

func TestFindModules_IdleGatingHonorsContext(t *testing.T) {
	r := New(WithIdleGating(true))
	require.NoError(t, r.AddSource("never-idle", &manualSource{}))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	requireFallback(t, r.FindModules(ctx, NewQuery("anything")))

	select {
	case <-r.Ready():
		t.Fatal("ready without idle")
	default:
	}
}

func TestReady_ToleratesRepeatedIdle(t *testing.T) {
	a, b := &manualSource{}, &manualSource{}
	r := New()
	require.NoError(t, r.AddSource("a", a))
	require.NoError(t, r.AddSource("b", b))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	a.handler().OnIdle()
	a.handler().OnIdle()
	require.False(t, r.Status().Ready)

	b.handler().OnIdle()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.WaitReady(ctx))
	b.handler().OnIdle()

	st := r.Status()
	require.True(t, st.Ready)
	require.Len(t, st.Sources, 2)
	require.True(t, st.Sources[0].Idle)
}

func TestReady_NoSources(t *testing.T) {
	r := New()
	require.NoError(t, r.Start(context.Background()))
	<-r.Ready()
	requireFallback(t, r.FindModules(context.Background(), NewQuery("v")))
	require.NoError(t, r.Close())
}

func TestSources_AddRemove(t *testing.T) {
	r := New(WithLogger(zaptest.NewLogger(t)))
	first := source.NewMemory(map[string]manifest.Entry{"1": {Binary: "first", Verb: "v"}})
	require.NoError(t, r.AddSource("first", first))
	require.ErrorIs(t, r.AddSource("first", source.NewMemory(nil)), ErrDuplicateSource)
	require.Error(t, r.AddSource("", source.NewMemory(nil)))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	// Added after Start: watched immediately, ordered after "first".
	second := source.NewMemory(map[string]manifest.Entry{"1": {Binary: "second", Verb: "v"}})
	require.NoError(t, r.AddSource("second", second))
	require.Equal(t, []string{"first", "second"}, r.FindModules(context.Background(), NewQuery("v")).ModuleIDs())

	require.NoError(t, r.RemoveSource("first"))
	require.ErrorIs(t, r.RemoveSource("first"), ErrUnknownSource)
	require.Equal(t, []string{"second"}, r.FindModules(context.Background(), NewQuery("v")).ModuleIDs())

	// The removed source is detached.
	first.Add("2", manifest.Entry{Binary: "ghost", Verb: "v"})
	require.Equal(t, []string{"second"}, r.FindModules(context.Background(), NewQuery("v")).ModuleIDs())
	require.Len(t, r.Entries(), 1)
}

func TestClose_IgnoresLateCallbacks(t *testing.T) {
	src := &manualSource{}
	r := New()
	require.NoError(t, r.AddSource("m", src))
	require.NoError(t, r.Start(context.Background()))

	h := src.handler()
	h.OnNewEntry("1", manifest.Entry{Binary: "id1", Verb: "verb1"})
	require.Equal(t, []string{"id1"}, r.FindModules(context.Background(), NewQuery("verb1")).ModuleIDs())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.True(t, src.closed)

	h.OnNewEntry("2", manifest.Entry{Binary: "id2", Verb: "verb1"})
	requireFallback(t, r.FindModules(context.Background(), NewQuery("verb1")))
	require.ErrorIs(t, r.AddSource("late", source.NewMemory(nil)), ErrClosed)
	require.ErrorIs(t, r.Start(context.Background()), ErrClosed)
	<-r.Ready()
}

func TestStart_SourceFailure(t *testing.T) {
	r := New(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, r.AddSource("missing", source.NewDirectory(filepath.Join(t.TempDir(), "nope"))))
	require.NoError(t, r.AddSource("mem", source.NewMemory(map[string]manifest.Entry{"1": {Binary: "ok", Verb: "v"}})))

	err := r.Start(context.Background())
	require.Error(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	// The failed source does not hold back readiness.
	<-r.Ready()
	st := r.Status()
	require.NotEmpty(t, st.Sources[0].Error)
	require.Equal(t, 1, st.Sources[1].Entries)
	require.Equal(t, []string{"ok"}, r.FindModules(context.Background(), NewQuery("v")).ModuleIDs())
}

func TestFindModulesByType(t *testing.T) {
	f := newFixture(t)
	f.reset()

	got := f.resolver.FindModulesByType(context.Background(), "baz", "companionCube")
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ModuleID)
	}
	require.Equal(t, []string{"module1", "module3"}, ids)
	require.Empty(t, f.resolver.FindModulesByType(context.Background(), "unknown"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.addSource("test1", source.NewMemory(map[string]manifest.Entry{"1": {Binary: "id1", Verb: "verb1"}}))
	f.reset()

	out := filepath.Join(t.TempDir(), "snap")
	_, err := snapshot.Export(out, f.resolver.Entries())
	require.NoError(t, err)

	r := New()
	require.NoError(t, r.AddSource("snapshot", source.NewSnapshot(out, nil)))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	for _, q := range []Query{
		NewQuery(navigateVerb),
		NewQuery(navigateVerb).WithTypes("start", "foo"),
		NewQuery("verb1"),
		NewQuery("no matchy!"),
	} {
		want := f.find(q).ModuleIDs()
		got := r.FindModules(context.Background(), q).ModuleIDs()
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("query %q differs after snapshot (-want +got):\n%s", q.Verb, diff)
		}
	}
}

func TestSnapshotRoundTrip_KeepsSourceOrder(t *testing.T) {
	live := New()
	require.NoError(t, live.AddSource("zeta", source.NewMemory(map[string]manifest.Entry{
		"b": {Binary: "from-zeta-b", Verb: "v"},
		"a": {Binary: "from-zeta-a", Verb: "v"},
	})))
	require.NoError(t, live.AddSource("alpha", source.NewMemory(map[string]manifest.Entry{
		"1": {Binary: "from-alpha", Verb: "v"},
	})))
	require.NoError(t, live.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, live.Close()) })

	want := live.FindModules(context.Background(), NewQuery("v")).ModuleIDs()
	require.Equal(t, []string{"from-zeta-a", "from-zeta-b", "from-alpha"}, want)

	out := filepath.Join(t.TempDir(), "snap")
	_, err := snapshot.Export(out, live.Entries())
	require.NoError(t, err)

	replayed := New()
	require.NoError(t, replayed.AddSource("snapshot", source.NewSnapshot(out, nil)))
	require.NoError(t, replayed.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, replayed.Close()) })

	got := replayed.FindModules(context.Background(), NewQuery("v")).ModuleIDs()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot changed result order (-live +snapshot):\n%s", diff)
	}
}

func TestRemoveSource_NoEntriesSurviveConcurrentDelivery(t *testing.T) {
	for round := 0; round < 20; round++ {
		src := &manualSource{}
		r := New()
		require.NoError(t, r.AddSource("busy", src))
		require.NoError(t, r.Start(context.Background()))
		h := src.handler()

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; ; i++ {
					select {
					case <-stop:
						return
					default:
					}
					h.OnNewEntry(strconv.Itoa(w)+"-"+strconv.Itoa(i), manifest.Entry{Binary: "b", Verb: "v"})
				}
			}()
		}

		time.Sleep(time.Millisecond)
		require.NoError(t, r.RemoveSource("busy"))
		close(stop)
		wg.Wait()

		require.Empty(t, r.Entries(), "round %d", round)
		require.NoError(t, r.Close())
	}
}

func TestQueryBuilders_DoNotAlias(t *testing.T) {
	base := NewQuery("v").WithTypes("a", "x")
	derived := base.WithTypes("b", "y")
	require.Len(t, base.Nouns, 1)
	require.Len(t, derived.Nouns, 2)
}
