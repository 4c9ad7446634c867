package ecs

import (
	"fmt"
	"reflect"
	"time"

	"github.com/zeusync/ecsync/internal/core/events/bus"
	"github.com/zeusync/ecsync/internal/core/observability/log"
)

// Lifecycle events published on the world's bus.
const (
	EventEntityCreated    = "ecs.entity.created"
	EventEntityRemoved    = "ecs.entity.removed"
	EventComponentAdded   = "ecs.component.added"
	EventComponentRemoved = "ecs.component.removed"
)

const eventSource = "ecs.world"

type EntityEvent struct {
	Entity Entity
}

type ComponentEvent struct {
	Entity Entity
	Type   *ComponentType
}

type Option func(*options)

type options struct {
	logger   log.Log
	events   bus.EventBus
	factory  EntityFactory
	store    EntityStore
	poolSize int
}

func WithLogger(l log.Log) Option {
	return func(o *options) { o.logger = l }
}

func WithEventBus(b bus.EventBus) Option {
	return func(o *options) { o.events = b }
}

func WithEntityFactory(f EntityFactory) Option {
	return func(o *options) { o.factory = f }
}

func WithEntityStore(s EntityStore) Option {
	return func(o *options) { o.store = s }
}

// WithPoolSize pre-allocates n instances per registered component type.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// World owns the component registry, the entities, the queries and the
// systems. It is single-threaded: every method must be called from the
// goroutine driving Execute.
type World struct {
	log    log.Log
	events bus.EventBus

	components *componentManager
	entities   *EntityManager
	queries    *queryManager
	systems    *systemManager

	enabled  bool
	started  time.Time
	lastTime float64
}

func NewWorld(opts ...Option) *World {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Provide()
	}
	if o.events == nil {
		o.events = bus.New()
	}

	logger := o.logger.Named("ecs")
	w := &World{
		log:        logger,
		events:     o.events,
		components: newComponentManager(o.poolSize, logger),
		enabled:    true,
		started:    time.Now(),
	}
	w.queries = newQueryManager(w)
	w.systems = newSystemManager(w)
	w.entities = newEntityManager(w, o.store, o.factory)
	return w
}

func (w *World) Logger() log.Log { return w.log }

func (w *World) Events() bus.EventBus { return w.events }

// RegisterComponent registers proto's type with the given property schema.
// Registering the same type again with an equal schema returns the existing
// ComponentType.
func (w *World) RegisterComponent(proto Component, schema Schema) (*ComponentType, error) {
	ct, created, err := w.components.register(proto, schema)
	if err != nil {
		w.log.Warn("component registration failed", log.String("component", fmt.Sprintf("%T", proto)), log.Error(err))
		return nil, err
	}
	if created {
		w.log.Debug("component registered",
			log.String("component", ct.Name),
			log.Int("props", len(ct.props)),
			log.Bool("tag", ct.tag),
			log.Bool("state", ct.state),
		)
	}
	return ct, nil
}

func (w *World) HasRegisteredComponent(proto Component) bool {
	_, ok := w.components.lookup(proto)
	return ok
}

// ComponentTypeOf returns the registered type of proto.
func (w *World) ComponentTypeOf(proto Component) (*ComponentType, bool) {
	return w.components.lookup(proto)
}

// ComponentTypeFor returns the registered type for a struct or pointer type.
func (w *World) ComponentTypeFor(t reflect.Type) (*ComponentType, bool) {
	if t == nil {
		return nil, false
	}
	return w.components.lookupType(t)
}

func (w *World) ComponentTypeByName(name string) (*ComponentType, bool) {
	ct, ok := w.components.byName[name]
	return ct, ok
}

func (w *World) ComponentTypes() []*ComponentType {
	return append([]*ComponentType(nil), w.components.types...)
}

// RegisterSystem wires the system's queries, runs its Init and schedules it.
func (w *World) RegisterSystem(s System, opts ...SystemOption) error {
	if err := w.systems.register(s, opts...); err != nil {
		w.log.Warn("system registration failed", log.Error(err))
		return err
	}
	w.log.Debug("system registered", log.String("system", s.base().name), log.Int("priority", s.base().priority))
	return nil
}

func (w *World) UnregisterSystem(s System) bool { return w.systems.unregister(s) }

// Systems lists registered systems in execution order.
func (w *World) Systems() []System { return append([]System(nil), w.systems.systems...) }

// Entities exposes the entity manager.
func (w *World) Entities() *EntityManager { return w.entities }

func (w *World) CreateEntity() (Entity, error) { return w.entities.Create() }

// UseEntityStore swaps the collection backing the entity manager.
func (w *World) UseEntityStore(store EntityStore) { w.entities.UseStore(store) }

// Query returns the shared query for cfg's include and exclude lists.
// Listen and Mandatory are ignored outside systems.
func (w *World) Query(cfg QueryConfig) (*Query, error) {
	inc, err := w.components.resolve(cfg.Include)
	if err != nil {
		return nil, err
	}
	exc, err := w.components.resolve(cfg.Exclude)
	if err != nil {
		return nil, err
	}
	return w.queries.get(inc, exc), nil
}

// Execute runs one tick: every enabled system in order, then the deferred
// removals. A non-positive delta is measured from the world clock.
func (w *World) Execute(delta, t float64) {
	if delta <= 0 {
		t = time.Since(w.started).Seconds()
		delta = t - w.lastTime
	}
	w.lastTime = t
	if !w.enabled {
		return
	}
	w.systems.execute(delta, t)
	w.entities.processDeferredRemoval()
}

// Stop stops every system, flushes pending removals and disables the world.
func (w *World) Stop() {
	w.systems.stop()
	w.entities.processDeferredRemoval()
	w.enabled = false
}

func (w *World) Play() { w.enabled = true }

func (w *World) Enabled() bool { return w.enabled }

func (w *World) publish(typ string, data any) {
	if !w.events.HasSubscribers(typ) {
		return
	}
	if err := w.events.Publish(bus.NewEvent(typ, eventSource, data)); err != nil {
		w.log.Warn("event handler failed", log.String("event", typ), log.Error(err))
	}
}

type ComponentStats struct {
	Name     string
	Attached int
	Pooled   int
	Free     int
}

type QueryStats struct {
	Key      string
	Entities int
	Reactive bool
}

type SystemStats struct {
	Name        string
	Enabled     bool
	Priority    int
	ExecuteTime time.Duration
	Queries     map[string]int
}

type Stats struct {
	Entities   int
	Components []ComponentStats
	Queries    []QueryStats
	Systems    []SystemStats
}

func (w *World) Stats() Stats {
	s := Stats{Entities: w.entities.Len()}
	for _, ct := range w.components.types {
		s.Components = append(s.Components, ComponentStats{
			Name:     ct.Name,
			Attached: w.components.counts[ct],
			Pooled:   ct.pool.TotalSize(),
			Free:     ct.pool.TotalFree(),
		})
	}
	for _, q := range w.queries.list {
		s.Queries = append(s.Queries, QueryStats{Key: q.key, Entities: q.Len(), Reactive: q.reactive})
	}
	for _, sys := range w.systems.systems {
		b := sys.base()
		st := SystemStats{
			Name:        b.name,
			Enabled:     b.enabled,
			Priority:    b.priority,
			ExecuteTime: b.executeTime,
			Queries:     make(map[string]int, len(b.queries)),
		}
		for name, r := range b.queries {
			st.Queries[name] = r.query.Len()
		}
		s.Systems = append(s.Systems, st)
	}
	return s
}
