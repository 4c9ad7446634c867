package schema

import "reflect"

// MapSchema is a key-unique replicated collection of records that keeps
// insertion order. Like ArraySchema, its listeners only observe decoded
// patches.
type MapSchema[T any] struct {
	Schema
	items    map[string]T
	keys     []string
	onAdd    hookList[T, string]
	onRemove hookList[T, string]
}

var _ collection = (*MapSchema[Record])(nil)

func NewMapSchema[T any]() *MapSchema[T] {
	return &MapSchema[T]{items: make(map[string]T)}
}

func (m *MapSchema[T]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *MapSchema[T]) Get(key string) (T, bool) {
	var zero T
	if m == nil {
		return zero, false
	}
	v, ok := m.items[key]
	return v, ok
}

func (m *MapSchema[T]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set inserts or replaces the value under key. Replacing keeps the key's position.
func (m *MapSchema[T]) Set(key string, value T) {
	if m.items == nil {
		m.items = make(map[string]T)
	}
	if _, ok := m.items[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.items[key] = value
	m.MarkChanged()
}

func (m *MapSchema[T]) Delete(key string) (T, bool) {
	var zero T
	if m == nil {
		return zero, false
	}
	v, ok := m.items[key]
	if !ok {
		return zero, false
	}
	delete(m.items, key)
	m.keys = removeKey(m.keys, key)
	m.MarkChanged()
	return v, true
}

func (m *MapSchema[T]) Clear() {
	if len(m.keys) == 0 {
		return
	}
	clear(m.items)
	m.keys = m.keys[:0]
	m.MarkChanged()
}

// Keys returns the keys in insertion order.
func (m *MapSchema[T]) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Each visits entries in insertion order until fn returns false. fn must not
// mutate the map.
func (m *MapSchema[T]) Each(fn func(key string, value T) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.items[k]) {
			return
		}
	}
}

// OnAdd registers a listener for entries added by decoded patches. With
// immediate set it is also called for every current entry.
func (m *MapSchema[T]) OnAdd(fn func(value T, key string), immediate bool) func() {
	detach := m.onAdd.add(fn)
	if immediate {
		for _, k := range m.Keys() {
			if v := m.items[k]; !isNilValue(any(v)) {
				fn(v, k)
			}
		}
	}
	return detach
}

// OnRemove registers a listener for entries removed by decoded patches.
func (m *MapSchema[T]) OnRemove(fn func(value T, key string)) func() {
	return m.onRemove.add(fn)
}

// CloneValue deep-clones the map and its records under fresh identities.
func (m *MapSchema[T]) CloneValue() any {
	if m == nil {
		return m
	}
	return m.cloneCollection()
}

func (m *MapSchema[T]) keyed() bool { return true }

func (m *MapSchema[T]) itemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (m *MapSchema[T]) entries() []entry {
	out := make([]entry, len(m.keys))
	for i, k := range m.keys {
		out[i] = entry{key: k, value: any(m.items[k])}
	}
	return out
}

func (m *MapSchema[T]) replace(entries []entry) (func(), error) {
	items := make(map[string]T, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		v, err := itemFromEntry[T](e.value)
		if err != nil {
			return nil, err
		}
		if _, dup := items[e.key]; !dup {
			keys = append(keys, e.key)
		}
		items[e.key] = v
	}

	var removed, added []slotEvent[T, string]
	for _, k := range m.keys {
		old := m.items[k]
		if cur, ok := items[k]; (!ok || !sameItem(any(cur), any(old))) && !isNilValue(any(old)) {
			removed = append(removed, slotEvent[T, string]{item: old, key: k})
		}
	}
	for _, k := range keys {
		cur := items[k]
		if old, ok := m.items[k]; (!ok || !sameItem(any(cur), any(old))) && !isNilValue(any(cur)) {
			added = append(added, slotEvent[T, string]{item: cur, key: k})
		}
	}
	m.items, m.keys = items, keys

	onRemove, onAdd := m.onRemove.snapshot(), m.onAdd.snapshot()
	return func() {
		for _, ev := range removed {
			onRemove.fire(ev.item, ev.key)
		}
		for _, ev := range added {
			onAdd.fire(ev.item, ev.key)
		}
	}, nil
}

func (m *MapSchema[T]) cloneCollection() collection {
	out := &MapSchema[T]{items: make(map[string]T, len(m.keys)), keys: append([]string(nil), m.keys...)}
	for _, k := range m.keys {
		out.items[k] = cloneItem(m.items[k])
	}
	return out
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
