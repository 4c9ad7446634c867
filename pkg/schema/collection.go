package schema

import "reflect"

// entry is one collection slot as seen by the encoder and decoder. Array
// keys are decimal indexes.
type entry struct {
	key   string
	value any
}

// collection is implemented by ArraySchema and MapSchema.
type collection interface {
	Record
	keyed() bool
	itemType() reflect.Type
	entries() []entry
	// replace installs decoded entries and returns the deferred add/remove
	// notifications, bound to the listeners registered at this moment.
	replace(entries []entry) (notify func(), err error)
	cloneCollection() collection
}

type hook[T any, K any] struct {
	fn func(T, K)
}

type hookList[T any, K any] []*hook[T, K]

func (l *hookList[T, K]) add(fn func(T, K)) func() {
	h := &hook[T, K]{fn: fn}
	*l = append(*l, h)
	return func() {
		for i, x := range *l {
			if x == h {
				// copy so snapshots taken earlier keep their listeners
				*l = append((*l)[:i:i], (*l)[i+1:]...)
				return
			}
		}
	}
}

func (l hookList[T, K]) snapshot() hookList[T, K] {
	return append(hookList[T, K](nil), l...)
}

func (l hookList[T, K]) fire(item T, key K) {
	for _, h := range l {
		h.fn(item, key)
	}
}

type slotEvent[T any, K any] struct {
	item T
	key  K
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func sameItem(a, b any) bool {
	return a == b
}

func itemFromEntry[T any](value any) (T, error) {
	var zero T
	if value == nil {
		return zero, nil
	}
	v, ok := value.(T)
	if !ok {
		return zero, ErrTypeMismatch
	}
	return v, nil
}

func cloneItem[T any](item T) T {
	if r, ok := any(item).(Record); ok && !isNilValue(r) {
		if c, ok := CloneRecord(r).(T); ok {
			return c
		}
	}
	return item
}
