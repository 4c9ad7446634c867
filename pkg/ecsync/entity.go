package ecsync

import (
	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/schema"
)

// Entity is a replicated entity: its id and its components travel with the
// state, the components keyed by component type name.
type Entity struct {
	schema.Schema
	ecs.EntityBase

	EntityID   uint64                         `schema:"uint64"`
	Components *schema.MapSchema[Replicated] `schema:"{ref}"`
}

// NewEntity returns an entity whose engine-side component store is its
// replicated Components map.
func NewEntity() *Entity {
	e := &Entity{Components: schema.NewMapSchema[Replicated]()}
	e.bindStore()
	return e
}

func (e *Entity) bindStore() {
	if e.Components == nil {
		e.Components = schema.NewMapSchema[Replicated]()
	}
	e.UseStore(componentStore{e: e})
}

// SetID mirrors the engine id into the replicated field.
func (e *Entity) SetID(id uint64) {
	if e.EntityID != id {
		e.EntityID = id
		e.MarkChanged()
	}
}

// Component returns the replicated component stored under name.
func (e *Entity) Component(name string) (Replicated, bool) {
	if e.Components == nil {
		return nil, false
	}
	return e.Components.Get(name)
}

// componentStore backs ecs.EntityBase with the entity's Components map so
// local additions and removals land in the replicated state.
type componentStore struct {
	e *Entity
}

func (s componentStore) Get(ct *ecs.ComponentType) (ecs.Component, bool) {
	c, ok := s.e.Component(ct.Name)
	if !ok {
		return nil, false
	}
	return c, true
}

func (s componentStore) Set(ct *ecs.ComponentType, c ecs.Component) {
	r, ok := c.(Replicated)
	if !ok {
		return
	}
	if s.e.Components == nil {
		s.e.Components = schema.NewMapSchema[Replicated]()
	}
	s.e.Components.Set(ct.Name, r)
}

func (s componentStore) Delete(ct *ecs.ComponentType) {
	if s.e.Components != nil {
		s.e.Components.Delete(ct.Name)
	}
}

// entityStore adapts a replicated entity list to the engine's store.
type entityStore struct {
	list *schema.ArraySchema[*Entity]
}

func (s entityStore) Append(e ecs.Entity) {
	if re, ok := e.(*Entity); ok {
		s.list.Push(re)
	}
}

func (s entityStore) Remove(e ecs.Entity) bool {
	re, ok := e.(*Entity)
	return ok && s.list.Remove(re)
}

func (s entityStore) Len() int { return s.list.Len() }

func (s entityStore) Each(fn func(e ecs.Entity) bool) {
	for _, e := range s.list.Items() {
		if e != nil && !fn(e) {
			return
		}
	}
}
