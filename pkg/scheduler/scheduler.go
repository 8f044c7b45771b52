// Package scheduler bounds concurrent model residency with per-type LRU
// quotas and NPU exclusivity, adapting the guard-channel-as-mutex idiom used
// by the wrapped-server loader it's grounded on.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade-server/pkg/catalog"
	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
	"github.com/lemonade-sdk/lemonade-server/pkg/recipeopts"
	"github.com/lemonade-sdk/lemonade-server/pkg/wrapped"
)

// defaultLoadTimeout is the deadline for a cold-miss acquire to reach Ready,
// per spec.md's "Model load: configurable, default 300 s".
const defaultLoadTimeout = 300 * time.Second

// Quotas holds the per-type residency limits read from configuration. Types
// outside this set (audio, image) are not quota-bound.
type Quotas struct {
	LLM       int
	Embedding int
	Reranking int
}

func (q Quotas) forType(t catalog.ModelType) (limit int, bounded bool) {
	switch t {
	case catalog.TypeLLM:
		return q.LLM, true
	case catalog.TypeEmbedding:
		return q.Embedding, true
	case catalog.TypeReranking:
		return q.Reranking, true
	default:
		return 0, false
	}
}

// Scheduler holds the bounded pool of resident wrapped servers. It is the
// single authority deciding which models are loaded and when they're
// evicted; callers never touch wrapped.Server lifecycles directly.
type Scheduler struct {
	log         logging.Logger
	catalog     *catalog.Catalog
	opts        *recipeopts.Store
	spawn       SpawnFunc
	quotas      Quotas
	portLow     int
	portHigh    int
	loadTimeout time.Duration

	// guard is a buffered size-1 channel used as a pollable mutex, matching
	// the teacher loader's idiom: select against ctx.Done() while acquiring.
	guard chan struct{}

	loaded map[string]*entry

	// waiters are signaled whenever the loaded map changes, so blocked
	// acquire calls can re-check rather than poll on a timer.
	waiters map[chan<- struct{}]bool

	// idleCheck wakes the eviction loop early after a release, so idle
	// entries don't wait out a full timer tick to be reaped.
	idleCheck chan struct{}

	idleTimeout time.Duration
}

// New constructs a Scheduler. spawn is supplied by the caller (typically
// cmd/lemonade-server's wiring) so this package never imports the concrete
// pkg/wrapped/* engine adapters.
func New(log logging.Logger, cat *catalog.Catalog, opts *recipeopts.Store, spawn SpawnFunc, quotas Quotas, portLow, portHigh int) *Scheduler {
	s := &Scheduler{
		log:         log,
		catalog:     cat,
		opts:        opts,
		spawn:       spawn,
		quotas:      quotas,
		portLow:     portLow,
		portHigh:    portHigh,
		loadTimeout: defaultLoadTimeout,
		guard:       make(chan struct{}, 1),
		loaded:      make(map[string]*entry),
		waiters:     make(map[chan<- struct{}]bool),
		idleCheck:   make(chan struct{}, 1),
		idleTimeout: 5 * time.Minute,
	}
	s.guard <- struct{}{}
	return s
}

func (s *Scheduler) lock(ctx context.Context) bool {
	select {
	case <-s.guard:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) unlock() {
	s.guard <- struct{}{}
}

func (s *Scheduler) broadcast() {
	for w := range s.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// Handle pins a loaded entry against eviction for the lifetime of a request.
// Callers must call Release exactly once.
type Handle struct {
	sched *Scheduler
	name  string
	entry *entry
}

// Server returns the underlying wrapped server to forward requests to.
func (h *Handle) Server() wrapped.Server {
	return h.entry.server
}

// Release decrements the entry's reference count, marking it eligible for
// idle eviction once it reaches zero.
func (h *Handle) Release() {
	h.sched.release(h.name)
}

// Acquire resolves name to a resident or newly spawned wrapped server,
// evicting other entries as needed to respect per-type quotas and NPU
// exclusivity. The returned Handle must be released by the caller.
func (s *Scheduler) Acquire(ctx context.Context, name string, opts recipeopts.Options) (*Handle, error) {
	if !s.lock(ctx) {
		return nil, ctx.Err()
	}

	// Fast path: already resident with compatible options.
	if e, ok := s.loaded[name]; ok && !e.pending() && e.recipeOptions == opts {
		e.refs++
		e.lastUse = time.Now()
		s.unlock()
		return &Handle{sched: s, name: name, entry: e}, nil
	}

	// If resident with a pending spawn, wait on it under the lock-free
	// window, then retry from the top once it resolves.
	if e, ok := s.loaded[name]; ok && e.pending() {
		ready := e.ready
		s.unlock()
		select {
		case <-ready:
			return s.Acquire(ctx, name, opts)
		case <-ctx.Done():
			return nil, lemonadeerr.ErrBusy
		}
	}

	// If resident with incompatible options but still in use by another
	// caller, wait for it to be released before respawning under the same
	// name rather than stopping a server mid-request.
	if e, ok := s.loaded[name]; ok && e.refs > 0 {
		waiter := make(chan struct{}, 1)
		s.waiters[waiter] = true
		s.unlock()
		select {
		case <-waiter:
			s.lock(context.Background())
			delete(s.waiters, waiter)
			s.unlock()
			return s.Acquire(ctx, name, opts)
		case <-ctx.Done():
			s.lock(context.Background())
			delete(s.waiters, waiter)
			s.unlock()
			return nil, ctx.Err()
		}
	}

	// If resident with incompatible options and unused, treat as a fresh
	// load: the stale entry is evicted below by the normal eviction-set
	// computation (its name collides with the one being requested, so it's
	// always in the same-name eviction path).
	descriptor, err := s.catalog.Lookup(name)
	if err != nil {
		s.unlock()
		return nil, err
	}

	evictions := s.computeEvictionSet(descriptor, name)
	for _, victim := range evictions {
		s.evictLocked(victim)
	}

	// computeEvictionSet only evicts unused (refs == 0) entries, so if every
	// other resident entry of this type is still pinned by an active
	// reference, the quota may still be exceeded after the eviction pass
	// above. Block until a release or eviction elsewhere frees a slot, then
	// retry from the top, rather than spawning a new entry over quota (see
	// spec's "never holds more than max_<type> entries of a given type").
	if limit, bounded := s.quotas.forType(descriptor.ModelType); bounded {
		if s.residentCountOfType(descriptor.ModelType, nil) >= limit {
			waiter := make(chan struct{}, 1)
			s.waiters[waiter] = true
			s.unlock()
			select {
			case <-waiter:
				s.lock(context.Background())
				delete(s.waiters, waiter)
				s.unlock()
				return s.Acquire(ctx, name, opts)
			case <-ctx.Done():
				s.lock(context.Background())
				delete(s.waiters, waiter)
				s.unlock()
				return nil, ctx.Err()
			}
		}
	}

	// Reserve a Pending placeholder so concurrent acquires for the same name
	// collapse onto this spawn instead of racing a second subprocess.
	placeholder := &entry{
		name:       name,
		modelType:  descriptor.ModelType,
		checkpoint: descriptor.Checkpoint,
		ready:      make(chan struct{}),
	}
	s.loaded[name] = placeholder
	s.broadcast()
	s.unlock()

	// Detached from ctx: a client disconnect must not abort an in-flight
	// spawn, so the next caller for this name still benefits from it.
	server, spawnErr := s.spawnLocked(context.Background(), descriptor, opts)

	if !s.lock(context.Background()) {
		// Unreachable in practice: background context never cancels.
		return nil, context.Canceled
	}
	if spawnErr != nil {
		placeholder.spawnErr = spawnErr
		delete(s.loaded, name)
		close(placeholder.ready)
		s.broadcast()
		s.unlock()
		return nil, spawnErr
	}

	placeholder.server = server
	placeholder.device = server.Capabilities().Device
	placeholder.recipeOptions = opts
	placeholder.refs = 1
	placeholder.lastUse = time.Now()
	ready := placeholder.ready
	placeholder.ready = nil
	close(ready)
	s.broadcast()
	s.unlock()

	if opts != (recipeopts.Options{}) {
		if err := s.opts.Save(name, opts); err != nil {
			s.log.WithError(err).Warnf("unable to persist recipe options for %s", name)
		}
	}

	return &Handle{sched: s, name: name, entry: placeholder}, nil
}

// spawnLocked acquires a port and spawns+waits-for-ready the wrapped server
// outside the scheduler lock, per the concurrency contract's "long-running
// subprocess spawn happens outside the lock" requirement.
func (s *Scheduler) spawnLocked(ctx context.Context, descriptor catalog.Descriptor, opts recipeopts.Options) (wrapped.Server, error) {
	port, err := wrapped.AcquirePort(s.portLow, s.portHigh)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire port: %w", err)
	}

	server, err := s.spawn(descriptor, opts, port)
	if err != nil {
		return nil, fmt.Errorf("unable to spawn wrapped server: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()
	// The subprocess outlives this call, so it is started under a context
	// that cancel does not reach; Stop is what ends it.
	if err := server.Spawn(context.WithoutCancel(loadCtx)); err != nil {
		return nil, fmt.Errorf("unable to start wrapped server: %w", err)
	}
	if err := server.WaitReady(loadCtx, s.loadTimeout); err != nil {
		_ = server.Stop(context.Background())
		return nil, fmt.Errorf("wrapped server failed to become ready: %w", err)
	}
	return server, nil
}

// release decrements the named entry's reference count and, if it reaches
// zero, starts its idle-eviction clock.
func (s *Scheduler) release(name string) {
	s.lock(context.Background())
	defer s.unlock()

	e, ok := s.loaded[name]
	if !ok || e.pending() {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 {
		e.lastUse = time.Now()
		select {
		case s.idleCheck <- struct{}{}:
		default:
		}
	}
	s.broadcast()
}

// Unload stops and removes a named entry, or every entry if name is nil.
func (s *Scheduler) Unload(ctx context.Context, name *string) error {
	if !s.lock(ctx) {
		return ctx.Err()
	}
	defer s.unlock()

	if name == nil {
		for n := range s.loaded {
			s.evictLocked(n)
		}
		return nil
	}

	if _, ok := s.loaded[*name]; !ok {
		return lemonadeerr.ErrNotLoaded
	}
	s.evictLocked(*name)
	return nil
}

// evictLocked stops and removes the named entry. The caller must hold the
// scheduler lock. Stop is invoked synchronously; per the concurrency
// contract stop() must never re-enter the scheduler.
func (s *Scheduler) evictLocked(name string) {
	e, ok := s.loaded[name]
	if !ok {
		return
	}
	delete(s.loaded, name)
	if e.pending() {
		// A pending spawn is never forcibly evicted mid-flight (cancellation
		// during a pending spawn must not abort it); removing it from the
		// map here only applies to the rare case of an explicit Unload
		// racing a spawn, which the caller accepts loses the placeholder's
		// visibility but not the in-flight subprocess itself.
		return
	}
	s.log.Infof("evicting %s (%s)", name, e.modelType)
	if err := e.server.Stop(context.Background()); err != nil {
		s.log.WithError(err).Warnf("error stopping wrapped server for %s", name)
	}
}

// computeEvictionSet implements the deterministic eviction policy: over-quota
// LRU entries of the incoming model's type, plus every unused (not pending,
// no active reference) NPU-bound entry when the incoming model requires NPU
// exclusivity; NPU-bound entries still in use stay resident. The caller must hold the
// scheduler lock. The incoming name's own stale entry (if resident with
// incompatible options) is always included.
func (s *Scheduler) computeEvictionSet(descriptor catalog.Descriptor, name string) []string {
	set := make(map[string]bool)

	if _, ok := s.loaded[name]; ok {
		set[name] = true
	}

	if limit, bounded := s.quotas.forType(descriptor.ModelType); bounded {
		typeCount := s.residentCountOfType(descriptor.ModelType, set)
		overQuota := typeCount + 1 - limit
		if overQuota > 0 {
			evictable := s.evictableNamesOfType(descriptor.ModelType, set)
			sort.Slice(evictable, func(i, j int) bool {
				return lessByLastUse(s.loaded[evictable[i]], s.loaded[evictable[j]], evictable[i], evictable[j])
			})
			for i := 0; i < overQuota && i < len(evictable); i++ {
				set[evictable[i]] = true
			}
		}
	}

	if isNPUExclusive(descriptor) {
		for n, e := range s.loaded {
			if set[n] || e.pending() || e.refs > 0 {
				continue
			}
			if strings.Contains(e.device, "npu") {
				set[n] = true
			}
		}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	return names
}

// residentCountOfType counts every resident (non-pending) entry of the
// given type, excluding names already in exclude, regardless of reference
// count. This feeds the quota math, which cares about how many ARE loaded.
func (s *Scheduler) residentCountOfType(t catalog.ModelType, exclude map[string]bool) int {
	count := 0
	for n, e := range s.loaded {
		if exclude[n] || e.pending() || e.modelType != t {
			continue
		}
		count++
	}
	return count
}

// evictableNamesOfType returns the names of unused (refs == 0), non-pending
// entries of the given type, excluding any already present in exclude. Only
// these are actual eviction candidates; an in-use entry is pinned by its
// handle for the lifetime of the request regardless of quota pressure.
func (s *Scheduler) evictableNamesOfType(t catalog.ModelType, exclude map[string]bool) []string {
	var names []string
	for n, e := range s.loaded {
		if exclude[n] || e.pending() || e.refs > 0 || e.modelType != t {
			continue
		}
		names = append(names, n)
	}
	return names
}

// lessByLastUse orders the LRU candidates oldest-first, breaking ties in
// last_use by name (lexicographic) for determinism.
func lessByLastUse(a, b *entry, nameA, nameB string) bool {
	if a.lastUse.Equal(b.lastUse) {
		return nameA < nameB
	}
	return a.lastUse.Before(b.lastUse)
}

func isNPUExclusive(d catalog.Descriptor) bool {
	return d.IsRyzenAI() || d.IsFLM()
}

// ListLoaded returns a snapshot of every resident or pending entry, used by
// /health and the Ollama /api/ps translation.
func (s *Scheduler) ListLoaded() []LoadedSummary {
	s.lock(context.Background())
	defer s.unlock()

	out := make([]LoadedSummary, 0, len(s.loaded))
	for _, e := range s.loaded {
		out = append(out, LoadedSummary{
			Name:          e.name,
			Type:          e.modelType,
			Device:        e.device,
			Checkpoint:    e.checkpoint,
			LastUse:       e.lastUse,
			RecipeOptions: e.recipeOptions,
			Pending:       e.pending(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Telemetry returns the most recent stdout-derived telemetry sample for a
// resident entry, without affecting its reference count. Used by /stats,
// which reports diagnostics rather than pinning a model for a request.
func (s *Scheduler) Telemetry(name string) (wrapped.TelemetrySample, bool) {
	s.lock(context.Background())
	defer s.unlock()

	e, ok := s.loaded[name]
	if !ok || e.pending() {
		return wrapped.TelemetrySample{}, false
	}
	return e.server.Telemetry(), true
}

// MaxModels returns the configured residency quotas.
func (s *Scheduler) MaxModels() MaxModels {
	return MaxModels{LLM: s.quotas.LLM, Embedding: s.quotas.Embedding, Reranking: s.quotas.Reranking}
}
