package ecs

import (
	"fmt"

	"github.com/zeusync/ecsync/internal/core/observability/log"
)

// EntityStore is the collection backing the EntityManager. Swapping it lets
// an externally owned collection, such as a replicated list, hold the
// world's entities.
type EntityStore interface {
	Append(e Entity)
	Remove(e Entity) bool
	Len() int
	// Each visits entities in order until fn returns false.
	Each(fn func(e Entity) bool)
}

// EntityFactory builds the concrete entity values handed out by CreateEntity.
type EntityFactory func() Entity

// SliceStore is the default, locally owned EntityStore.
type SliceStore struct {
	entities []Entity
}

func NewSliceStore() *SliceStore { return &SliceStore{} }

func (s *SliceStore) Append(e Entity) { s.entities = append(s.entities, e) }

func (s *SliceStore) Remove(e Entity) bool {
	for i, x := range s.entities {
		if x == e {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			return true
		}
	}
	return false
}

func (s *SliceStore) Len() int { return len(s.entities) }

func (s *SliceStore) Each(fn func(e Entity) bool) {
	for _, e := range append([]Entity(nil), s.entities...) {
		if !fn(e) {
			return
		}
	}
}

// EntityManager creates entities, tracks their components and performs the
// deferred removals at the end of every tick.
type EntityManager struct {
	world   *World
	store   EntityStore
	factory EntityFactory
	nextID  uint64
	byID    map[uint64]Entity

	toRemove     []Entity
	withRemovals []Entity
}

func newEntityManager(w *World, store EntityStore, factory EntityFactory) *EntityManager {
	if store == nil {
		store = NewSliceStore()
	}
	if factory == nil {
		factory = func() Entity { return &EntityBase{} }
	}
	return &EntityManager{
		world:   w,
		store:   store,
		factory: factory,
		byID:    make(map[uint64]Entity),
	}
}

// Store returns the active entity store.
func (m *EntityManager) Store() EntityStore { return m.store }

// Len is the number of entities in the active store.
func (m *EntityManager) Len() int { return m.store.Len() }

// Each visits the entities of the active store.
func (m *EntityManager) Each(fn func(e Entity) bool) { m.store.Each(fn) }

// ByID looks a live or pending-removal entity up by id.
func (m *EntityManager) ByID(id uint64) (Entity, bool) {
	e, ok := m.byID[id]
	return e, ok
}

// UseStore swaps the backing store and rebuilds query membership from it.
// Entities of the old store that the new one does not hold are released:
// they leave byID and are no longer alive.
func (m *EntityManager) UseStore(store EntityStore) {
	if store == nil {
		store = NewSliceStore()
	}
	kept := make(map[Entity]struct{}, store.Len())
	store.Each(func(e Entity) bool {
		kept[e] = struct{}{}
		return true
	})
	released := 0
	if m.store != nil {
		m.store.Each(func(e Entity) bool {
			if _, ok := kept[e]; !ok {
				b := e.base()
				b.alive = false
				m.forget(b)
				released++
			}
			return true
		})
	}
	m.store = store
	m.world.queries.rescan()
	m.world.log.Debug("entity store replaced",
		log.Int("entities", store.Len()),
		log.Int("released", released))
}

// Create builds a new entity with the next id and appends it to the store.
func (m *EntityManager) Create() (Entity, error) {
	e := m.factory()
	if e == nil {
		return nil, fmt.Errorf("%w: factory returned nil", ErrInvalidEntity)
	}
	if b := e.base(); b.manager != nil {
		return nil, fmt.Errorf("%w: factory returned entity %d of another world", ErrInvalidEntity, b.id)
	}
	m.nextID++
	m.bind(e, m.nextID)
	m.store.Append(e)
	m.world.queries.onEntityAdded(e)
	m.world.publish(EventEntityCreated, EntityEvent{Entity: e})
	return e, nil
}

// Adopt makes an entity that already sits in the store (placed there by
// someone else, e.g. a decoder) alive under the given id. A zero id takes
// the next one from the counter. Adopting twice is a no-op.
func (m *EntityManager) Adopt(e Entity, id uint64) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidEntity)
	}
	b := e.base()
	if b.manager == m && !b.released {
		return nil
	}
	if b.manager != nil && b.manager != m {
		return fmt.Errorf("%w: entity %d belongs to another world", ErrInvalidEntity, b.id)
	}
	if id == 0 {
		id = m.nextID + 1
	}
	if other, ok := m.byID[id]; ok && other != e {
		return fmt.Errorf("%w: id %d already in use", ErrInvalidEntity, id)
	}
	m.nextID = max(m.nextID, id)
	m.bind(e, id)
	m.world.queries.onEntityAdded(e)
	m.world.publish(EventEntityCreated, EntityEvent{Entity: e})
	return nil
}

// Drop forgets an entity that its store already lost. Its components are
// untracked immediately without being disposed, since the store's owner
// holds them. Reports whether the entity was known.
func (m *EntityManager) Drop(e Entity) bool {
	if e == nil {
		return false
	}
	b := e.base()
	if b.manager != m || b.released {
		return false
	}
	b.alive = false
	b.removing = true
	for i := len(b.types) - 1; i >= 0; i-- {
		ct := b.types[i]
		c, _ := b.store().Get(ct)
		m.removeComponent(b, ct, true, true, c)
	}
	for len(b.pendingSeq) > 0 {
		ct := b.pendingSeq[len(b.pendingSeq)-1]
		p, _ := b.takePending(ct)
		m.finish(ct, p)
	}
	m.world.queries.onEntityRemoved(e)
	m.world.publish(EventEntityRemoved, EntityEvent{Entity: e})
	m.forget(b)
	return true
}

// AttachComponent records that c, already placed in e's component store by
// someone else, is now part of e. It performs the same bookkeeping as
// AddComponent without touching the store or the values of c.
func (m *EntityManager) AttachComponent(e Entity, ct *ComponentType, c Component) error {
	b := e.base()
	if b.manager != m {
		return ErrDetachedEntity
	}
	if b.released {
		return fmt.Errorf("%w: %d", ErrEntityReleased, b.id)
	}
	if err := m.owns(ct); err != nil {
		return err
	}
	if err := ct.Bind(c); err != nil {
		return err
	}
	if b.HasComponent(ct) {
		return nil
	}
	m.track(b, ct)
	return nil
}

// DetachComponent is the counterpart of AttachComponent: c already left
// e's store. The removal is deferred like a local one, so c stays readable
// through GetRemovedComponent until the end of the tick. c is not disposed.
func (m *EntityManager) DetachComponent(e Entity, ct *ComponentType, c Component) bool {
	b := e.base()
	if b.manager != m || b.released || c == nil {
		return false
	}
	return m.removeComponent(b, ct, false, true, c)
}

func (m *EntityManager) owns(ct *ComponentType) error {
	if ct == nil || ct.owner != m.world.components {
		return fmt.Errorf("%w: %v", ErrUnregisteredComponent, ct)
	}
	return nil
}

func (m *EntityManager) bind(e Entity, id uint64) {
	b := e.base()
	b.self = e
	b.manager = m
	b.id = id
	b.alive = true
	b.removing = false
	b.released = false
	if s, ok := e.(IDSetter); ok {
		s.SetID(id)
	}
	m.byID[id] = e
}

func (m *EntityManager) forget(b *EntityBase) {
	if cur, ok := m.byID[b.id]; ok && cur == b.self {
		delete(m.byID, b.id)
	}
	b.released = true
	b.queries = nil
}

func (m *EntityManager) addComponent(b *EntityBase, ct *ComponentType, values Values) error {
	if err := m.owns(ct); err != nil {
		return err
	}
	if b.HasComponent(ct) {
		return fmt.Errorf("%w: %s on entity %d", ErrDuplicateComponent, ct.Name, b.id)
	}
	c, err := ct.acquire(values)
	if err != nil {
		return err
	}
	b.store().Set(ct, c)
	m.track(b, ct)
	return nil
}

// track is the bookkeeping shared by local and external additions.
func (m *EntityManager) track(b *EntityBase, ct *ComponentType) {
	if p, ok := b.takePending(ct); ok {
		m.finish(ct, p)
	}
	b.types = append(b.types, ct)
	if ct.state {
		b.numState++
	}
	m.world.queries.onComponentAdded(b.self, ct)
	m.world.components.addedToEntity(ct)
	m.world.publish(EventComponentAdded, ComponentEvent{Entity: b.self, Type: ct})
}

// removeComponent is the bookkeeping shared by local and external
// removals. External removals pass the instance that left the store.
func (m *EntityManager) removeComponent(b *EntityBase, ct *ComponentType, immediate, external bool, c Component) bool {
	i := indexOfType(b.types, ct)
	if i < 0 {
		return false
	}
	m.world.publish(EventComponentRemoved, ComponentEvent{Entity: b.self, Type: ct})
	b.types = append(b.types[:i], b.types[i+1:]...)
	if !external {
		c, _ = b.store().Get(ct)
		b.store().Delete(ct)
	}

	p := pendingRemoval{component: c, external: external}
	if immediate {
		m.finish(ct, p)
	} else {
		if len(b.pending) == 0 {
			m.withRemovals = append(m.withRemovals, b.self)
		}
		b.setPending(ct, p)
	}

	m.world.queries.onComponentRemoved(b.self, ct)

	if ct.state {
		b.numState--
		if b.numState == 0 && !b.alive {
			m.removeEntity(b, false)
		}
	}
	return true
}

func (m *EntityManager) removeAllComponents(b *EntityBase, immediate bool) {
	types := append([]*ComponentType(nil), b.types...)
	for i := len(types) - 1; i >= 0; i-- {
		if !types[i].state {
			m.removeComponent(b, types[i], immediate, false, nil)
		}
	}
}

func (m *EntityManager) finish(ct *ComponentType, p pendingRemoval) {
	if !p.external && p.component != nil {
		p.component.Dispose()
	}
	m.world.components.removedFromEntity(ct)
}

func (m *EntityManager) removeEntity(b *EntityBase, immediate bool) {
	if b.released {
		return
	}
	b.alive = false
	m.removeAllComponents(b, immediate)
	if b.numState > 0 || b.removing {
		return
	}
	b.removing = true
	m.world.publish(EventEntityRemoved, EntityEvent{Entity: b.self})
	m.world.queries.onEntityRemoved(b.self)
	if immediate {
		m.release(b)
		return
	}
	m.toRemove = append(m.toRemove, b.self)
}

func (m *EntityManager) release(b *EntityBase) {
	if b.released {
		return
	}
	m.store.Remove(b.self)
	m.forget(b)
}

// processDeferredRemoval releases removed entities, then disposes every
// component whose removal was deferred during the tick.
func (m *EntityManager) processDeferredRemoval() {
	toRemove := m.toRemove
	m.toRemove = nil
	for _, e := range toRemove {
		m.release(e.base())
	}

	withRemovals := m.withRemovals
	m.withRemovals = nil
	for _, e := range withRemovals {
		b := e.base()
		for len(b.pendingSeq) > 0 {
			ct := b.pendingSeq[len(b.pendingSeq)-1]
			p, _ := b.takePending(ct)
			m.finish(ct, p)
		}
	}
}
