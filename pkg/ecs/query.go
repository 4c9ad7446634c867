package ecs

import "strings"

// QueryConfig declares a system query by component prototypes.
type QueryConfig struct {
	Include []Component
	Exclude []Component
	Listen  Listen
	// Mandatory queries must match at least one entity for the system to run.
	Mandatory bool
}

// Listen selects the reactive lists a system wants filled for a query.
// Changed collects entities whose included components were fetched through
// GetMutableComponent; ChangedOn narrows that to the listed components.
type Listen struct {
	Added     bool
	Removed   bool
	Changed   bool
	ChangedOn []Component
}

type queryListener interface {
	entityAdded(e Entity)
	entityRemoved(e Entity)
	componentChanged(e Entity, ct *ComponentType)
}

// Query is a standing filter over the world's entities, maintained
// incrementally as components come and go. Queries with the same filter are
// shared.
type Query struct {
	key       string
	include   []*ComponentType
	exclude   []*ComponentType
	entities  []Entity
	members   map[Entity]struct{}
	reactive  bool
	listeners []queryListener
}

func (q *Query) Key() string { return q.key }

func (q *Query) Include() []*ComponentType { return append([]*ComponentType(nil), q.include...) }

func (q *Query) Exclude() []*ComponentType { return append([]*ComponentType(nil), q.exclude...) }

// Entities returns the matching entities in match order.
func (q *Query) Entities() []Entity { return append([]Entity(nil), q.entities...) }

func (q *Query) Len() int { return len(q.entities) }

func (q *Query) Has(e Entity) bool {
	_, ok := q.members[e]
	return ok
}

func (q *Query) match(b *EntityBase) bool {
	return b.HasAllComponents(q.include...) && !b.HasAnyComponents(q.exclude...)
}

func (q *Query) includes(ct *ComponentType) bool { return indexOfType(q.include, ct) >= 0 }

func (q *Query) excludes(ct *ComponentType) bool { return indexOfType(q.exclude, ct) >= 0 }

func (q *Query) add(e Entity) {
	q.entities = append(q.entities, e)
	q.members[e] = struct{}{}
	b := e.base()
	b.queries = append(b.queries, q)
	for _, l := range q.listeners {
		l.entityAdded(e)
	}
}

func (q *Query) remove(e Entity) {
	if _, ok := q.members[e]; !ok {
		return
	}
	delete(q.members, e)
	for i, x := range q.entities {
		if x == e {
			q.entities = append(q.entities[:i], q.entities[i+1:]...)
			break
		}
	}
	b := e.base()
	for i, x := range b.queries {
		if x == q {
			b.queries = append(b.queries[:i], b.queries[i+1:]...)
			break
		}
	}
	for _, l := range q.listeners {
		l.entityRemoved(e)
	}
}

func (q *Query) componentChanged(e Entity, ct *ComponentType) {
	for _, l := range q.listeners {
		l.componentChanged(e, ct)
	}
}

func (q *Query) unlisten(l queryListener) {
	for i, x := range q.listeners {
		if x == l {
			q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
			return
		}
	}
}

func queryKey(include, exclude []*ComponentType) string {
	parts := append(typeNames(include, ""), typeNames(exclude, "!")...)
	return strings.Join(parts, "-")
}

type queryManager struct {
	world   *World
	queries map[string]*Query
	list    []*Query
}

func newQueryManager(w *World) *queryManager {
	return &queryManager{world: w, queries: make(map[string]*Query)}
}

func (qm *queryManager) get(include, exclude []*ComponentType) *Query {
	key := queryKey(include, exclude)
	if q, ok := qm.queries[key]; ok {
		return q
	}
	q := &Query{
		key:     key,
		include: append([]*ComponentType(nil), include...),
		exclude: append([]*ComponentType(nil), exclude...),
		members: make(map[Entity]struct{}),
	}
	qm.scan(q)
	qm.queries[key] = q
	qm.list = append(qm.list, q)
	return q
}

func (qm *queryManager) scan(q *Query) {
	m := qm.world.entities
	m.store.Each(func(e Entity) bool {
		b := e.base()
		if b.manager == m && !b.released && !b.removing && q.match(b) {
			q.add(e)
		}
		return true
	})
}

// rescan rebuilds membership after the entity store was swapped.
func (qm *queryManager) rescan() {
	for _, q := range qm.list {
		for _, e := range q.Entities() {
			q.remove(e)
		}
		qm.scan(q)
	}
}

func (qm *queryManager) onEntityAdded(e Entity) {
	b := e.base()
	for _, q := range qm.list {
		if len(q.include) == 0 && !q.Has(e) && q.match(b) {
			q.add(e)
		}
	}
}

func (qm *queryManager) onEntityRemoved(e Entity) {
	for _, q := range qm.list {
		q.remove(e)
	}
}

func (qm *queryManager) onComponentAdded(e Entity, ct *ComponentType) {
	b := e.base()
	for _, q := range qm.list {
		if q.excludes(ct) && q.Has(e) {
			q.remove(e)
			continue
		}
		if !q.includes(ct) || q.Has(e) || !q.match(b) {
			continue
		}
		q.add(e)
	}
}

func (qm *queryManager) onComponentRemoved(e Entity, ct *ComponentType) {
	b := e.base()
	for _, q := range qm.list {
		if q.excludes(ct) && !q.Has(e) && q.match(b) {
			q.add(e)
			continue
		}
		if q.includes(ct) && q.Has(e) && !q.match(b) {
			q.remove(e)
		}
	}
}
