package ecs

import "fmt"

// Entity is the contract of everything the EntityManager can hold. Concrete
// entities embed EntityBase; *EntityBase is itself a valid Entity.
type Entity interface {
	ID() uint64
	Alive() bool

	base() *EntityBase
}

// IDSetter is implemented by entities that mirror their id into their own
// state, for example a replicated field.
type IDSetter interface {
	SetID(id uint64)
}

// ComponentStore holds the live components of one entity keyed by type.
type ComponentStore interface {
	Get(ct *ComponentType) (Component, bool)
	Set(ct *ComponentType, c Component)
	Delete(ct *ComponentType)
}

type mapStore map[*ComponentType]Component

func (s mapStore) Get(ct *ComponentType) (Component, bool) {
	c, ok := s[ct]
	return c, ok
}

func (s mapStore) Set(ct *ComponentType, c Component) { s[ct] = c }

func (s mapStore) Delete(ct *ComponentType) { delete(s, ct) }

type pendingRemoval struct {
	component Component
	external  bool
}

// EntityBase carries the engine bookkeeping of an entity: its id, the
// component types currently attached, the components waiting for deferred
// removal and the queries it matches.
type EntityBase struct {
	self     Entity
	manager  *EntityManager
	id       uint64
	alive    bool
	removing bool
	released bool

	components ComponentStore
	types      []*ComponentType
	pending    map[*ComponentType]pendingRemoval
	pendingSeq []*ComponentType
	queries    []*Query
	numState   int
}

func (e *EntityBase) base() *EntityBase { return e }

func (e *EntityBase) ID() uint64 { return e.id }

// Alive is true from the moment the entity joins a world store until it is
// removed.
func (e *EntityBase) Alive() bool { return e.alive }

// World returns the world the entity belongs to, or nil.
func (e *EntityBase) World() *World {
	if e.manager == nil {
		return nil
	}
	return e.manager.world
}

// UseStore replaces the component store. It must be called before any
// component is added.
func (e *EntityBase) UseStore(store ComponentStore) { e.components = store }

func (e *EntityBase) store() ComponentStore {
	if e.components == nil {
		e.components = make(mapStore)
	}
	return e.components
}

func (e *EntityBase) attached() error {
	switch {
	case e.manager == nil:
		return ErrDetachedEntity
	case e.released:
		return fmt.Errorf("%w: %d", ErrEntityReleased, e.id)
	}
	return nil
}

// AddComponent attaches a pooled instance of ct initialised with values.
func (e *EntityBase) AddComponent(ct *ComponentType, values Values) error {
	if err := e.attached(); err != nil {
		return err
	}
	return e.manager.addComponent(e, ct, values)
}

// RemoveComponent detaches ct. Unless immediate, the instance stays
// readable through GetRemovedComponent until the end of the current tick.
func (e *EntityBase) RemoveComponent(ct *ComponentType, immediate bool) bool {
	if e.attached() != nil {
		return false
	}
	return e.manager.removeComponent(e, ct, immediate, false, nil)
}

// RemoveAllComponents removes every component except system state ones.
func (e *EntityBase) RemoveAllComponents(immediate bool) {
	if e.attached() != nil {
		return
	}
	e.manager.removeAllComponents(e, immediate)
}

// GetComponent returns the live instance of ct. It never marks anything changed.
func (e *EntityBase) GetComponent(ct *ComponentType) (Component, bool) {
	if !e.HasComponent(ct) {
		return nil, false
	}
	return e.store().Get(ct)
}

// GetRemovedComponent returns an instance waiting for deferred removal.
func (e *EntityBase) GetRemovedComponent(ct *ComponentType) (Component, bool) {
	p, ok := e.pending[ct]
	if !ok {
		return nil, false
	}
	return p.component, true
}

// GetMutableComponent returns the live instance of ct, marks it changed and
// notifies reactive queries listening for changes of ct.
func (e *EntityBase) GetMutableComponent(ct *ComponentType) (Component, bool) {
	c, ok := e.GetComponent(ct)
	if !ok {
		return nil, false
	}
	if m, ok := c.(ChangeMarker); ok {
		m.MarkChanged()
	}
	for _, q := range append([]*Query(nil), e.queries...) {
		if q.reactive && q.includes(ct) {
			q.componentChanged(e.self, ct)
		}
	}
	return c, true
}

func (e *EntityBase) HasComponent(ct *ComponentType) bool {
	return indexOfType(e.types, ct) >= 0
}

func (e *EntityBase) HasRemovedComponent(ct *ComponentType) bool {
	_, ok := e.pending[ct]
	return ok
}

func (e *EntityBase) HasAllComponents(types ...*ComponentType) bool {
	for _, ct := range types {
		if !e.HasComponent(ct) {
			return false
		}
	}
	return true
}

func (e *EntityBase) HasAnyComponents(types ...*ComponentType) bool {
	for _, ct := range types {
		if e.HasComponent(ct) {
			return true
		}
	}
	return false
}

// ComponentTypes lists the attached component types in attach order.
func (e *EntityBase) ComponentTypes() []*ComponentType {
	return append([]*ComponentType(nil), e.types...)
}

// Queries lists the queries the entity currently matches.
func (e *EntityBase) Queries() []*Query {
	return append([]*Query(nil), e.queries...)
}

// Remove removes the entity from its world. Unless immediate, it leaves the
// store at the end of the current tick.
func (e *EntityBase) Remove(immediate bool) error {
	if err := e.attached(); err != nil {
		return err
	}
	e.manager.removeEntity(e, immediate)
	return nil
}

func (e *EntityBase) setPending(ct *ComponentType, p pendingRemoval) {
	if e.pending == nil {
		e.pending = make(map[*ComponentType]pendingRemoval)
	}
	if _, ok := e.pending[ct]; !ok {
		e.pendingSeq = append(e.pendingSeq, ct)
	}
	e.pending[ct] = p
}

func (e *EntityBase) takePending(ct *ComponentType) (pendingRemoval, bool) {
	p, ok := e.pending[ct]
	if !ok {
		return p, false
	}
	delete(e.pending, ct)
	if i := indexOfType(e.pendingSeq, ct); i >= 0 {
		e.pendingSeq = append(e.pendingSeq[:i], e.pendingSeq[i+1:]...)
	}
	return p, true
}

func indexOfType(types []*ComponentType, ct *ComponentType) int {
	for i, t := range types {
		if t == ct {
			return i
		}
	}
	return -1
}
