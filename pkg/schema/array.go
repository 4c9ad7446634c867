package schema

import (
	"reflect"
	"strconv"
)

// ArraySchema is an order-preserving replicated list of records. Local
// mutations mark it changed; OnAdd/OnRemove listeners fire only when a
// Decoder applies a patch.
type ArraySchema[T any] struct {
	Schema
	items    []T
	onAdd    hookList[T, int]
	onRemove hookList[T, int]
}

var _ collection = (*ArraySchema[Record])(nil)

func NewArraySchema[T any](items ...T) *ArraySchema[T] {
	a := &ArraySchema[T]{}
	a.items = append(a.items, items...)
	return a
}

func (a *ArraySchema[T]) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

func (a *ArraySchema[T]) At(i int) (T, bool) {
	var zero T
	if a == nil || i < 0 || i >= len(a.items) {
		return zero, false
	}
	return a.items[i], true
}

// Push appends items and returns the new length.
func (a *ArraySchema[T]) Push(items ...T) int {
	a.items = append(a.items, items...)
	a.MarkChanged()
	return len(a.items)
}

func (a *ArraySchema[T]) Set(i int, item T) bool {
	if i < 0 || i >= len(a.items) {
		return false
	}
	a.items[i] = item
	a.MarkChanged()
	return true
}

func (a *ArraySchema[T]) DeleteAt(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(a.items) {
		return zero, false
	}
	item := a.items[i]
	copy(a.items[i:], a.items[i+1:])
	a.items[len(a.items)-1] = zero
	a.items = a.items[:len(a.items)-1]
	a.MarkChanged()
	return item, true
}

func (a *ArraySchema[T]) IndexOf(item T) int {
	if a == nil {
		return -1
	}
	for i, it := range a.items {
		if sameItem(any(it), any(item)) {
			return i
		}
	}
	return -1
}

// Remove deletes the first occurrence of item.
func (a *ArraySchema[T]) Remove(item T) bool {
	i := a.IndexOf(item)
	if i < 0 {
		return false
	}
	_, ok := a.DeleteAt(i)
	return ok
}

func (a *ArraySchema[T]) Clear() {
	if len(a.items) == 0 {
		return
	}
	clear(a.items)
	a.items = a.items[:0]
	a.MarkChanged()
}

// Items returns a copy of the current items.
func (a *ArraySchema[T]) Items() []T {
	if a == nil {
		return nil
	}
	return append([]T(nil), a.items...)
}

// Each visits items in order until fn returns false. fn must not mutate the array.
func (a *ArraySchema[T]) Each(fn func(i int, item T) bool) {
	if a == nil {
		return
	}
	for i, it := range a.items {
		if !fn(i, it) {
			return
		}
	}
}

// OnAdd registers a listener for items added by decoded patches. With
// immediate set it is also called for every current item. The returned
// func detaches the listener.
func (a *ArraySchema[T]) OnAdd(fn func(item T, index int), immediate bool) func() {
	detach := a.onAdd.add(fn)
	if immediate {
		for i, it := range a.Items() {
			if !isNilValue(any(it)) {
				fn(it, i)
			}
		}
	}
	return detach
}

// OnRemove registers a listener for items removed by decoded patches.
func (a *ArraySchema[T]) OnRemove(fn func(item T, index int)) func() {
	return a.onRemove.add(fn)
}

// CloneValue deep-clones the array and its records under fresh identities.
func (a *ArraySchema[T]) CloneValue() any {
	if a == nil {
		return a
	}
	return a.cloneCollection()
}

func (a *ArraySchema[T]) keyed() bool { return false }

func (a *ArraySchema[T]) itemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (a *ArraySchema[T]) entries() []entry {
	out := make([]entry, len(a.items))
	for i, it := range a.items {
		out[i] = entry{key: strconv.Itoa(i), value: any(it)}
	}
	return out
}

func (a *ArraySchema[T]) replace(entries []entry) (func(), error) {
	items := make([]T, len(entries))
	for i, e := range entries {
		v, err := itemFromEntry[T](e.value)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}

	var removed, added []slotEvent[T, int]
	for i, old := range a.items {
		if !isNilValue(any(old)) && indexOfItem(items, old) < 0 {
			removed = append(removed, slotEvent[T, int]{item: old, key: i})
		}
	}
	for i, it := range items {
		if !isNilValue(any(it)) && indexOfItem(a.items, it) < 0 {
			added = append(added, slotEvent[T, int]{item: it, key: i})
		}
	}
	a.items = items

	onRemove, onAdd := a.onRemove.snapshot(), a.onAdd.snapshot()
	return func() {
		for _, ev := range removed {
			onRemove.fire(ev.item, ev.key)
		}
		for _, ev := range added {
			onAdd.fire(ev.item, ev.key)
		}
	}, nil
}

func (a *ArraySchema[T]) cloneCollection() collection {
	out := &ArraySchema[T]{items: make([]T, len(a.items))}
	for i, it := range a.items {
		out.items[i] = cloneItem(it)
	}
	return out
}

func indexOfItem[T any](items []T, item T) int {
	for i, it := range items {
		if sameItem(any(it), any(item)) {
			return i
		}
	}
	return -1
}
