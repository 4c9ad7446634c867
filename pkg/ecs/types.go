package ecs

import (
	"fmt"
	"reflect"
)

// Type describes how values of one component property are defaulted,
// copied and cloned. Types are compared by identity when components are
// registered, so a Type should be created once and shared.
type Type struct {
	Name    string
	Default any
	// Copy returns the value dst should hold after copying src into it.
	// Implementations may write into dst and return it.
	Copy  func(src, dst any) any
	Clone func(src any) any
}

// TypeSpec is the input of CreateType.
type TypeSpec struct {
	Name    string
	Default any
	Copy    func(src, dst any) any
	Clone   func(src any) any
}

// CreateType builds a custom property type. Name, Copy and Clone are required.
func CreateType(spec TypeSpec) (*Type, error) {
	switch {
	case spec.Name == "":
		return nil, fmt.Errorf("%w: missing name", ErrInvalidType)
	case spec.Copy == nil:
		return nil, fmt.Errorf("%w: %s: missing copy", ErrInvalidType, spec.Name)
	case spec.Clone == nil:
		return nil, fmt.Errorf("%w: %s: missing clone", ErrInvalidType, spec.Name)
	}
	return &Type{Name: spec.Name, Default: spec.Default, Copy: spec.Copy, Clone: spec.Clone}, nil
}

// Prop declares one component property: the Go field it is stored in, its
// Type and an optional default overriding Type.Default.
type Prop struct {
	Name    string
	Type    *Type
	Default any
}

// Schema is the ordered property list of a component.
type Schema []Prop

// Equal reports whether two schemas declare the same properties with
// identical types and equal defaults.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].Name != other[i].Name || s[i].Type != other[i].Type ||
			!reflect.DeepEqual(s[i].Default, other[i].Default) {
			return false
		}
	}
	return true
}

func identity(src any) any { return src }

func copyIdentity(src, _ any) any { return src }

// Types holds the built-in property types.
var Types = struct {
	Number  *Type
	Boolean *Type
	String  *Type
	Array   *Type
	JSON    *Type
	Ref     *Type
}{
	Number:  &Type{Name: "Number", Default: float64(0), Copy: copyIdentity, Clone: identity},
	Boolean: &Type{Name: "Boolean", Default: false, Copy: copyIdentity, Clone: identity},
	String:  &Type{Name: "String", Default: "", Copy: copyIdentity, Clone: identity},
	Array: &Type{
		Name:  "Array",
		Copy:  func(src, _ any) any { return DeepCopy(src) },
		Clone: DeepCopy,
	},
	JSON: &Type{
		Name:  "JSON",
		Copy:  func(src, _ any) any { return DeepCopy(src) },
		Clone: DeepCopy,
	},
	Ref: &Type{Name: "Ref", Copy: copyIdentity, Clone: identity},
}

// Cloner is implemented by values that know how to deep-copy themselves.
type Cloner interface {
	CloneValue() any
}

// DeepCopy copies slices, arrays and maps recursively. Values implementing
// Cloner copy themselves; anything else, pointers included, is shared.
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	if c, ok := v.(Cloner); ok {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return v
		}
		return c.CloneValue()
	}
	return deepCopyValue(reflect.ValueOf(v)).Interface()
}

func deepCopyValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(reflect.ValueOf(DeepCopy(v.Interface())))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopyValue(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopyValue(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopyValue(iter.Value()))
		}
		return out
	default:
		return v
	}
}

// setField stores v into fv, converting between numeric kinds when needed.
func setField(fv reflect.Value, v any) error {
	if v == nil {
		fv.SetZero()
		return nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(fv.Type()):
		fv.Set(rv)
	case isNumeric(rv.Kind()) && isNumeric(fv.Kind()):
		fv.Set(rv.Convert(fv.Type()))
	case rv.Kind() == fv.Kind() && rv.Type().ConvertibleTo(fv.Type()):
		fv.Set(rv.Convert(fv.Type()))
	case (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil():
		fv.SetZero()
	default:
		return fmt.Errorf("%w: %s into %s", ErrInvalidValue, rv.Type(), fv.Type())
	}
	return nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
