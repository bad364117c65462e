// Package resolver answers module queries against the manifests reported by a
// set of named sources.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kamusis/modres/internal/index"
	"github.com/kamusis/modres/internal/manifest"
	"github.com/kamusis/modres/internal/source"
)

var (
	// ErrDuplicateSource is returned when a source name is already registered.
	ErrDuplicateSource = errors.New("resolver: duplicate source name")
	// ErrUnknownSource is returned when removing a source that is not registered.
	ErrUnknownSource = errors.New("resolver: unknown source")
	// ErrClosed is returned by operations on a closed resolver.
	ErrClosed = errors.New("resolver: closed")
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithIdleGating makes FindModules wait until every source registered at
// Start has reported idle, or until the query's context ends.
func WithIdleGating(on bool) Option {
	return func(r *Resolver) { r.gate = on }
}

type attachedSource struct {
	name string
	src  source.Source
	idle atomic.Bool

	// deliver serializes index updates from the source with detaching, so
	// no update that saw the source attached lands after the purge.
	deliver  sync.Mutex
	detached bool

	// guarded by Resolver.mu
	gating bool
	err    error
}

// Resolver owns the index and the sources feeding it.
type Resolver struct {
	store  *index.Store
	logger *zap.Logger
	gate   bool

	mu          sync.Mutex
	sources     map[string]*attachedSource
	order       []string
	started     bool
	closed      bool
	watchCtx    context.Context
	cancel      context.CancelFunc
	pendingIdle int

	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a Resolver with no sources.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		store:   index.NewStore(),
		logger:  zap.NewNop(),
		sources: make(map[string]*attachedSource),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSource registers src under name. Sources added after Start begin
// watching immediately but do not hold back readiness.
func (r *Resolver) AddSource(name string, src source.Source) error {
	if name == "" {
		return errors.New("resolver: source name is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.sources[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	s := &attachedSource{name: name, src: src}
	r.sources[name] = s
	r.order = append(r.order, name)
	r.store.RegisterSource(name)
	started, ctx := r.started, r.watchCtx
	r.mu.Unlock()

	r.logger.Debug("source added", zap.String("source", name))
	if started {
		return r.watch(ctx, s)
	}
	return nil
}

// Start begins watching every registered source. Watch failures are logged
// and returned; the resolver keeps serving from the sources that started.
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.watchCtx, r.cancel = context.WithCancel(ctx)
	toWatch := make([]*attachedSource, 0, len(r.order))
	for _, name := range r.order {
		s := r.sources[name]
		s.gating = true
		toWatch = append(toWatch, s)
	}
	r.pendingIdle = len(toWatch)
	if r.pendingIdle == 0 {
		r.markReady()
	}
	watchCtx := r.watchCtx
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range toWatch {
		g.Go(func() error { return r.watch(watchCtx, s) })
	}
	return g.Wait()
}

func (r *Resolver) watch(ctx context.Context, s *attachedSource) error {
	if err := s.src.Watch(ctx, &sourceHandler{r: r, s: s}); err != nil {
		r.logger.Error("source failed to start", zap.String("source", s.name), zap.Error(err))
		r.mu.Lock()
		s.err = err
		r.releaseGateLocked(s)
		r.mu.Unlock()
		return fmt.Errorf("source %s: %w", s.name, err)
	}
	return nil
}

// RemoveSource stops the named source and drops its entries.
func (r *Resolver) RemoveSource(name string) error {
	r.mu.Lock()
	s, ok := r.sources[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	delete(r.sources, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.releaseGateLocked(s)
	r.mu.Unlock()

	err := r.detach(s)
	r.logger.Info("source removed", zap.String("source", name))
	return err
}

// detach stops callbacks from s, closes it and drops its entries. Updates
// already past the detached check finish before detached is set; later ones
// are dropped, so nothing is upserted after the purge.
func (r *Resolver) detach(s *attachedSource) error {
	s.markDetached()
	err := s.src.Close()
	n := r.store.RemoveSource(s.name)
	r.logger.Debug("source entries dropped", zap.String("source", s.name), zap.Int("entries", n))
	return err
}

// Close stops every source. Queries issued afterwards get the fallback result.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sources := make([]*attachedSource, 0, len(r.order))
	for _, name := range r.order {
		sources = append(sources, r.sources[name])
	}
	r.sources = make(map[string]*attachedSource)
	r.order = nil
	cancel := r.cancel
	r.mu.Unlock()

	for _, s := range sources {
		s.markDetached()
	}
	if cancel != nil {
		cancel()
	}
	var err error
	for _, s := range sources {
		err = multierr.Append(err, r.detach(s))
	}
	r.markReady()
	return err
}

// Ready is closed once every source registered at Start has reported idle.
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

// WaitReady blocks until Ready is closed or ctx ends.
func (r *Resolver) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) markReady() {
	r.readyOnce.Do(func() {
		close(r.ready)
		r.logger.Info("all sources idle")
	})
}

func (r *Resolver) sourceIdle(s *attachedSource) {
	r.logger.Debug("source idle", zap.String("source", s.name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseGateLocked(s)
}

func (r *Resolver) releaseGateLocked(s *attachedSource) {
	if !s.gating {
		return
	}
	s.gating = false
	r.pendingIdle--
	if r.started && r.pendingIdle == 0 {
		r.markReady()
	}
}

// FindModules resolves q. It never fails: when nothing matches, the result is
// a single module with id ResolutionFailed.
func (r *Resolver) FindModules(ctx context.Context, q Query) FindModulesResult {
	if r.gate {
		select {
		case <-r.ready:
		case <-ctx.Done():
			r.logger.Warn("answering query before all sources are idle", zap.String("verb", q.Verb))
		}
	}

	nouns := resolveNouns(q.Nouns)
	var modules []ModuleResult
	for _, rec := range r.store.LookupByVerb(manifest.Normalize(q.Verb)) {
		if !matches(rec.Entry, nouns) {
			continue
		}
		modules = append(modules, newModuleResult(rec, q.Nouns))
	}
	if len(modules) == 0 {
		modules = []ModuleResult{{ModuleID: ResolutionFailed, InitialNouns: cloneNouns(q.Nouns)}}
	}

	r.logger.Debug("query resolved",
		zap.String("verb", q.Verb),
		zap.Int("nouns", len(q.Nouns)),
		zap.Int("results", len(modules)))
	return FindModulesResult{Modules: modules}
}

// FindModulesByType lists the modules with a noun constraint accepting any
// of types. Unlike FindModules the result may be empty.
func (r *Resolver) FindModulesByType(_ context.Context, types ...string) []ModuleResult {
	recs := r.store.LookupByType(manifest.NormalizeAll(types)...)
	out := make([]ModuleResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newModuleResult(rec, nil))
	}
	return out
}

// Entries returns every indexed entry in result order.
func (r *Resolver) Entries() []index.Record {
	return r.store.All()
}

// SourceStatus describes one attached source.
type SourceStatus struct {
	Name    string `json:"name"`
	Idle    bool   `json:"idle"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// Status describes the resolver.
type Status struct {
	Ready   bool           `json:"ready"`
	Entries int            `json:"entries"`
	Sources []SourceStatus `json:"sources"`
}

// Status reports readiness, entry counts and per-source state.
func (r *Resolver) Status() Status {
	counts := r.store.CountBySource()

	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{Entries: r.store.Len(), Sources: make([]SourceStatus, 0, len(r.order))}
	select {
	case <-r.ready:
		st.Ready = true
	default:
	}
	for _, name := range r.order {
		s := r.sources[name]
		ss := SourceStatus{Name: name, Idle: s.idle.Load(), Entries: counts[name]}
		if s.err != nil {
			ss.Error = s.err.Error()
		}
		st.Sources = append(st.Sources, ss)
	}
	return st
}

func newModuleResult(rec index.Record, nouns map[string]Noun) ModuleResult {
	return ModuleResult{
		ModuleID:     rec.Entry.Binary,
		LocalName:    rec.Entry.LocalName,
		Source:       rec.Source,
		EntryID:      rec.EntryID,
		InitialNouns: cloneNouns(nouns),
	}
}

func cloneNouns(nouns map[string]Noun) map[string]Noun {
	if nouns == nil {
		return nil
	}
	out := make(map[string]Noun, len(nouns))
	for k, n := range nouns {
		c := Noun{JSON: n.JSON}
		if n.Types != nil {
			c.Types = append([]string(nil), n.Types...)
		}
		out[k] = c
	}
	return out
}

// sourceHandler applies one source's notifications to the index.
type sourceHandler struct {
	r *Resolver
	s *attachedSource
}

func (s *attachedSource) markDetached() {
	s.deliver.Lock()
	s.detached = true
	s.deliver.Unlock()
}

func (s *attachedSource) isDetached() bool {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	return s.detached
}

func (h *sourceHandler) OnIdle() {
	if h.s.isDetached() {
		return
	}
	if h.s.idle.CompareAndSwap(false, true) {
		h.r.sourceIdle(h.s)
	}
}

func (h *sourceHandler) OnNewEntry(entryID string, e manifest.Entry) {
	h.s.deliver.Lock()
	defer h.s.deliver.Unlock()
	if h.s.detached {
		return
	}
	h.r.store.Upsert(h.s.name, entryID, e.Normalized())
	h.r.logger.Debug("entry added",
		zap.String("source", h.s.name),
		zap.String("entry", entryID),
		zap.String("binary", e.Binary),
		zap.String("verb", e.Verb))
}

func (h *sourceHandler) OnRemovedEntry(entryID string) {
	h.s.deliver.Lock()
	defer h.s.deliver.Unlock()
	if h.s.detached {
		return
	}
	if h.r.store.Remove(h.s.name, entryID) {
		h.r.logger.Debug("entry removed", zap.String("source", h.s.name), zap.String("entry", entryID))
	}
}
