package ecs

import (
	"fmt"
	"reflect"
)

// TypeOf returns the ComponentType registered in w for T, e.g. TypeOf[*Position](w).
func TypeOf[T Component](w *World) (*ComponentType, bool) {
	if w == nil {
		return nil, false
	}
	return w.ComponentTypeFor(reflect.TypeOf((*T)(nil)).Elem())
}

func typeFor[T Component](e Entity) (*EntityBase, *ComponentType, bool) {
	if e == nil {
		return nil, nil, false
	}
	b := e.base()
	ct, ok := TypeOf[T](b.World())
	return b, ct, ok
}

// Add attaches a new T to e.
func Add[T Component](e Entity, values Values) error {
	b, ct, ok := typeFor[T](e)
	if b == nil {
		return ErrDetachedEntity
	}
	if !ok {
		var zero T
		return fmt.Errorf("%w: %T", ErrUnregisteredComponent, zero)
	}
	return b.AddComponent(ct, values)
}

func Get[T Component](e Entity) (T, bool) {
	var zero T
	b, ct, ok := typeFor[T](e)
	if !ok {
		return zero, false
	}
	c, ok := b.GetComponent(ct)
	if !ok {
		return zero, false
	}
	v, ok := c.(T)
	return v, ok
}

func GetMutable[T Component](e Entity) (T, bool) {
	var zero T
	b, ct, ok := typeFor[T](e)
	if !ok {
		return zero, false
	}
	c, ok := b.GetMutableComponent(ct)
	if !ok {
		return zero, false
	}
	v, ok := c.(T)
	return v, ok
}

func GetRemoved[T Component](e Entity) (T, bool) {
	var zero T
	b, ct, ok := typeFor[T](e)
	if !ok {
		return zero, false
	}
	c, ok := b.GetRemovedComponent(ct)
	if !ok {
		return zero, false
	}
	v, ok := c.(T)
	return v, ok
}

func Has[T Component](e Entity) bool {
	b, ct, ok := typeFor[T](e)
	return ok && b.HasComponent(ct)
}

func Remove[T Component](e Entity, immediate bool) bool {
	b, ct, ok := typeFor[T](e)
	return ok && b.RemoveComponent(ct, immediate)
}
