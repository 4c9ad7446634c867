package ecs

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// System is per-tick logic over query results. Implementations embed
// BaseSystem and provide Execute.
type System interface {
	Execute(delta, time float64)
	// Stop disables the system. World.Stop calls it on every system before
	// flushing deferred removals, so overrides can clean up their components.
	Stop()

	base() *BaseSystem
}

// Querier is implemented by systems that declare queries.
type Querier interface {
	Queries() map[string]QueryConfig
}

// Initializer is implemented by systems that need setup once their queries
// are in place.
type Initializer interface {
	Init(w *World) error
}

type SystemOption func(*systemConfig)

type systemConfig struct {
	priority int
}

// WithPriority orders execution: lower priorities run first, ties run in
// registration order.
func WithPriority(priority int) SystemOption {
	return func(c *systemConfig) { c.priority = priority }
}

// QueryResult is a system's view of one query: the live matches plus the
// reactive lists collected since the system last ran.
type QueryResult struct {
	query *Query

	Added   []Entity
	Removed []Entity
	Changed []Entity

	listenAdded   bool
	listenRemoved bool
	listenChanged bool
	changedOn     []*ComponentType
}

// Results returns the entities currently matching the query.
func (r *QueryResult) Results() []Entity {
	if r == nil || r.query == nil {
		return nil
	}
	return r.query.Entities()
}

// Query returns the shared query behind the result, or nil.
func (r *QueryResult) Query() *Query { return r.query }

func (r *QueryResult) entityAdded(e Entity) {
	if r.listenAdded {
		r.Added = appendUnique(r.Added, e)
	}
}

func (r *QueryResult) entityRemoved(e Entity) {
	if r.listenRemoved {
		r.Removed = appendUnique(r.Removed, e)
	}
}

func (r *QueryResult) componentChanged(e Entity, ct *ComponentType) {
	if !r.listenChanged {
		return
	}
	if len(r.changedOn) > 0 && indexOfType(r.changedOn, ct) < 0 {
		return
	}
	r.Changed = appendUnique(r.Changed, e)
}

func (r *QueryResult) clear() {
	r.Added = r.Added[:0]
	r.Removed = r.Removed[:0]
	r.Changed = r.Changed[:0]
}

func appendUnique(list []Entity, e Entity) []Entity {
	for _, x := range list {
		if x == e {
			return list
		}
	}
	return append(list, e)
}

// BaseSystem carries the engine-side state of a system.
type BaseSystem struct {
	world       *World
	name        string
	queries     map[string]*QueryResult
	mandatory   []*Query
	enabled     bool
	initialized bool
	priority    int
	order       int
	executeTime time.Duration
}

func (s *BaseSystem) base() *BaseSystem { return s }

func (s *BaseSystem) World() *World { return s.world }

func (s *BaseSystem) Name() string { return s.name }

// Query returns the named query result. Unknown names yield an empty result.
func (s *BaseSystem) Query(name string) *QueryResult {
	if r, ok := s.queries[name]; ok {
		return r
	}
	return &QueryResult{}
}

func (s *BaseSystem) Enabled() bool { return s.enabled }

func (s *BaseSystem) Play() { s.enabled = true }

func (s *BaseSystem) Stop() {
	s.executeTime = 0
	s.enabled = false
}

func (s *BaseSystem) Priority() int { return s.priority }

// ExecuteTime is how long the last Execute took.
func (s *BaseSystem) ExecuteTime() time.Duration { return s.executeTime }

// CanExecute is false while any mandatory query is empty.
func (s *BaseSystem) CanExecute() bool {
	for _, q := range s.mandatory {
		if q.Len() == 0 {
			return false
		}
	}
	return true
}

func (s *BaseSystem) clearEvents() {
	for _, r := range s.queries {
		r.clear()
	}
}

type systemManager struct {
	world   *World
	systems []System
	byType  map[reflect.Type]System
}

func newSystemManager(w *World) *systemManager {
	return &systemManager{world: w, byType: make(map[reflect.Type]System)}
}

func (sm *systemManager) register(s System, opts ...SystemOption) error {
	if s == nil {
		return fmt.Errorf("%w: nil system", ErrInvalidSystem)
	}
	t := reflect.TypeOf(s)
	if _, dup := sm.byType[t]; dup {
		return fmt.Errorf("%w: %s", ErrSystemRegistered, t)
	}
	cfg := systemConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := s.base()
	results := make(map[string]*QueryResult)
	var mandatory []*Query
	if querier, ok := s.(Querier); ok {
		configs := querier.Queries()
		names := make([]string, 0, len(configs))
		for name := range configs {
			names = append(names, name)
		}
		sort.Strings(names)

		type pendingQuery struct {
			name string
			cfg  QueryConfig
			inc  []*ComponentType
			exc  []*ComponentType
			on   []*ComponentType
		}
		resolved := make([]pendingQuery, 0, len(names))
		for _, name := range names {
			cfg := configs[name]
			if len(cfg.Include) == 0 && len(cfg.Exclude) == 0 {
				return fmt.Errorf("%w: %s: query %q has no components", ErrInvalidSystem, t, name)
			}
			inc, err := sm.world.components.resolve(cfg.Include)
			if err != nil {
				return fmt.Errorf("%s: query %q: %w", t, name, err)
			}
			exc, err := sm.world.components.resolve(cfg.Exclude)
			if err != nil {
				return fmt.Errorf("%s: query %q: %w", t, name, err)
			}
			on, err := sm.world.components.resolve(cfg.Listen.ChangedOn)
			if err != nil {
				return fmt.Errorf("%s: query %q: %w", t, name, err)
			}
			resolved = append(resolved, pendingQuery{name: name, cfg: cfg, inc: inc, exc: exc, on: on})
		}

		for _, p := range resolved {
			q := sm.world.queries.get(p.inc, p.exc)
			r := &QueryResult{
				query:         q,
				listenAdded:   p.cfg.Listen.Added,
				listenRemoved: p.cfg.Listen.Removed,
				listenChanged: p.cfg.Listen.Changed || len(p.on) > 0,
				changedOn:     p.on,
			}
			if r.listenChanged {
				q.reactive = true
			}
			if r.listenAdded || r.listenRemoved || r.listenChanged {
				q.listeners = append(q.listeners, r)
			}
			if p.cfg.Mandatory {
				mandatory = append(mandatory, q)
			}
			results[p.name] = r
		}
	}

	b.world = sm.world
	b.name = typeName(t)
	b.queries = results
	b.mandatory = mandatory
	b.enabled = true
	b.priority = cfg.priority
	b.order = len(sm.systems)

	if init, ok := s.(Initializer); ok {
		if err := init.Init(sm.world); err != nil {
			sm.detachQueries(b)
			return fmt.Errorf("%s: init: %w", t, err)
		}
	}
	b.initialized = true

	sm.systems = append(sm.systems, s)
	sm.byType[t] = s
	sort.SliceStable(sm.systems, func(i, j int) bool {
		bi, bj := sm.systems[i].base(), sm.systems[j].base()
		if bi.priority != bj.priority {
			return bi.priority < bj.priority
		}
		return bi.order < bj.order
	})
	return nil
}

func (sm *systemManager) unregister(s System) bool {
	t := reflect.TypeOf(s)
	if cur, ok := sm.byType[t]; !ok || cur != s {
		return false
	}
	delete(sm.byType, t)
	for i, x := range sm.systems {
		if x == s {
			sm.systems = append(sm.systems[:i], sm.systems[i+1:]...)
			break
		}
	}
	sm.detachQueries(s.base())
	return true
}

func (sm *systemManager) detachQueries(b *BaseSystem) {
	for _, r := range b.queries {
		if r.query != nil {
			r.query.unlisten(r)
		}
	}
}

func (sm *systemManager) execute(delta, t float64) {
	for _, s := range append([]System(nil), sm.systems...) {
		b := s.base()
		if !b.enabled || !b.initialized || !b.CanExecute() {
			continue
		}
		start := time.Now()
		s.Execute(delta, t)
		b.executeTime = time.Since(start)
		b.clearEvents()
	}
}

func (sm *systemManager) stop() {
	for _, s := range append([]System(nil), sm.systems...) {
		s.Stop()
	}
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
