package ecsync

import (
	"errors"
	"fmt"

	"github.com/zeusync/ecsync/internal/core/events/bus"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/schema"
)

// Role says which side of the wire a world sits on.
type Role uint8

const (
	// RoleAuthority worlds mutate the state; their entity list is encoded.
	RoleAuthority Role = iota
	// RoleReceiver worlds mirror a decoded state and never mutate it.
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "authority"
}

type Option func(*options)

type options struct {
	ecs   []ecs.Option
	log   log.Log
	ctx   *schema.Context
	types *TypeCache
	role  Role
}

func WithLogger(l log.Log) Option {
	return func(o *options) {
		o.log = l
		o.ecs = append(o.ecs, ecs.WithLogger(l))
	}
}

func WithEventBus(b bus.EventBus) Option {
	return func(o *options) { o.ecs = append(o.ecs, ecs.WithEventBus(b)) }
}

func WithPoolSize(n int) Option {
	return func(o *options) { o.ecs = append(o.ecs, ecs.WithPoolSize(n)) }
}

// WithContext shares a schema context, typically the one an encoder or
// decoder was built with.
func WithContext(ctx *schema.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithTypeCache shares synthesized types between worlds.
func WithTypeCache(c *TypeCache) Option {
	return func(o *options) { o.types = c }
}

func WithRole(r Role) Option {
	return func(o *options) { o.role = r }
}

// World is an ecs.World whose entities and components are replicated
// records.
type World struct {
	*ecs.World

	log   log.Log
	ctx   *schema.Context
	types *TypeCache
	role  Role

	entities *schema.ArraySchema[*Entity]
	detach   func()
	watchers map[*Entity][]func()
}

func NewWorld(opts ...Option) *World {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = log.Provide()
	}
	if o.ctx == nil {
		o.ctx = schema.NewContext()
	}
	if o.types == nil {
		o.types = NewTypeCache()
	}
	o.ecs = append(o.ecs, ecs.WithEntityFactory(func() ecs.Entity { return NewEntity() }))

	w := &World{
		World:    ecs.NewWorld(o.ecs...),
		log:      o.log.Named("ecsync").With(log.String("role", o.role.String())),
		ctx:      o.ctx,
		types:    o.types,
		role:     o.role,
		watchers: make(map[*Entity][]func()),
	}
	if _, err := w.ctx.Register(&Entity{}); err != nil {
		w.log.Error("entity type registration failed", log.Error(err))
	}
	return w
}

func (w *World) Context() *schema.Context { return w.ctx }

func (w *World) TypeCache() *TypeCache { return w.types }

func (w *World) Role() Role { return w.role }

// EntityCollection returns the list installed by UseEntities, or nil.
func (w *World) EntityCollection() *schema.ArraySchema[*Entity] { return w.entities }

// RegisterComponent registers a replicated component. Its property schema
// is derived from the `schema` tags, and every record type it references
// is added to the world's schema context.
func (w *World) RegisterComponent(proto ecs.Component) (*ecs.ComponentType, error) {
	r, err := checkCapabilities(proto)
	if err != nil {
		w.log.Warn("component rejected", log.String("component", fmt.Sprintf("%T", proto)), log.Error(err))
		return nil, err
	}
	def, err := w.ctx.Register(r)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrTypeIDCollision):
			err = fmt.Errorf("%w: %w", ErrConflictingRegistration, err)
		case errors.Is(err, schema.ErrNotRecord):
			err = fmt.Errorf("%w: %w", ErrNotComponent, err)
		default:
			err = fmt.Errorf("%w: %w", ErrUnresolvableField, err)
		}
		w.log.Warn("component schema rejected", log.String("component", fmt.Sprintf("%T", proto)), log.Error(err))
		return nil, err
	}
	props, err := w.types.Descriptor(w.ctx, def)
	if err != nil {
		w.log.Warn("component descriptor failed", log.String("component", def.Name), log.Error(err))
		return nil, err
	}
	return w.World.RegisterComponent(proto, props)
}

// CreateEntity creates a replicated entity in the active store.
func (w *World) CreateEntity() (*Entity, error) {
	e, err := w.World.CreateEntity()
	if err != nil {
		return nil, err
	}
	return e.(*Entity), nil
}

// UseEntities makes list the entity store of the world. Entities created
// afterwards are pushed into it, and removed ones are spliced out of it.
// A receiver world also starts mirroring decoded changes.
func (w *World) UseEntities(list *schema.ArraySchema[*Entity]) {
	if w.detach != nil {
		w.detach()
		w.detach = nil
	}
	w.entities = list
	w.UseEntityStore(entityStore{list: list})
	w.log.Debug("entity collection installed", log.Int("entities", list.Len()))
	if w.role == RoleReceiver {
		w.EnableAutoDecoding(list)
	}
}

// EnableAutoDecoding keeps the world in step with a decoded entity list:
// entities and components added by a patch become engine entities and
// components, and removals are mirrored. Entities already in the list are
// adopted at once. The returned func stops mirroring; Stop and the next
// UseEntities call it too.
func (w *World) EnableAutoDecoding(list *schema.ArraySchema[*Entity]) func() {
	offAdd := list.OnAdd(func(e *Entity, _ int) { w.adopt(e) }, true)
	offRemove := list.OnRemove(func(e *Entity, _ int) { w.drop(e) })
	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		offAdd()
		offRemove()
		for e, fns := range w.watchers {
			for _, fn := range fns {
				fn()
			}
			delete(w.watchers, e)
		}
	}
	if prev := w.detach; prev != nil {
		w.detach = func() {
			prev()
			stop()
		}
	} else {
		w.detach = stop
	}
	return stop
}

func (w *World) adopt(e *Entity) {
	if e == nil {
		return
	}
	if _, watched := w.watchers[e]; watched {
		return
	}
	e.bindStore()
	if err := w.Entities().Adopt(e, e.EntityID); err != nil {
		w.log.Warn("entity adoption failed", log.Uint64("entity", e.EntityID), log.Error(err))
		return
	}

	onAdd := e.Components.OnAdd(func(c Replicated, name string) {
		ct, ok := w.ComponentTypeByName(name)
		if !ok {
			w.log.Warn("decoded unregistered component", log.Uint64("entity", e.ID()), log.String("component", name))
			return
		}
		if err := w.Entities().AttachComponent(e, ct, c); err != nil {
			w.log.Warn("component attach failed", log.Uint64("entity", e.ID()), log.String("component", name), log.Error(err))
		}
	}, true)
	onRemove := e.Components.OnRemove(func(c Replicated, name string) {
		ct, ok := w.ComponentTypeByName(name)
		if !ok {
			return
		}
		w.Entities().DetachComponent(e, ct, c)
	})
	w.watchers[e] = []func(){onAdd, onRemove}
}

func (w *World) drop(e *Entity) {
	if e == nil {
		return
	}
	for _, fn := range w.watchers[e] {
		fn()
	}
	delete(w.watchers, e)
	w.Entities().Drop(e)
}

// Stop stops the systems, flushes pending removals and stops mirroring.
func (w *World) Stop() {
	w.World.Stop()
	if w.detach != nil {
		w.detach()
		w.detach = nil
	}
}
