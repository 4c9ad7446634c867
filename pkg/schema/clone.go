package schema

import (
	"fmt"
	"reflect"
)

// CloneRecord deep-clones a record, including nested records and
// collections. Clones carry no replication identity.
func CloneRecord(src Record) Record {
	if isNilValue(src) {
		return src
	}
	if c, ok := src.(collection); ok {
		return c.cloneCollection()
	}
	def, err := Describe(reflect.TypeOf(src))
	if err != nil {
		return nil
	}
	dst := reflect.New(def.Type)
	sv, dv := reflect.ValueOf(src).Elem(), dst.Elem()
	for _, f := range def.Fields {
		sfv := sv.FieldByIndex(f.Index)
		dfv := dv.FieldByIndex(f.Index)
		if f.Type.IsRef() {
			child, _ := recordOf(sfv)
			setRecord(dfv, CloneRecord(child))
			continue
		}
		dfv.Set(copyValue(sfv))
	}
	return dst.Interface().(Record)
}

// CopyFields overwrites dst's declared fields with src's. Nested records
// already present in dst are copied into, keeping their identity; other
// references are cloned. dst is marked changed.
func CopyFields(dst, src Record) error {
	if isNilValue(dst) || isNilValue(src) {
		return fmt.Errorf("%w: nil record", ErrNotRecord)
	}
	if dst == src {
		return nil
	}
	if reflect.TypeOf(dst) != reflect.TypeOf(src) {
		return fmt.Errorf("%w: copy %T into %T", ErrTypeMismatch, src, dst)
	}
	def, err := Describe(reflect.TypeOf(src))
	if err != nil {
		return err
	}
	sv, dv := reflect.ValueOf(src).Elem(), reflect.ValueOf(dst).Elem()
	for _, f := range def.Fields {
		sfv := sv.FieldByIndex(f.Index)
		dfv := dv.FieldByIndex(f.Index)
		switch {
		case f.Type.Kind == KindRef:
			schild, _ := recordOf(sfv)
			dchild, _ := recordOf(dfv)
			if schild == nil {
				dfv.SetZero()
			} else if dchild != nil && reflect.TypeOf(dchild) == reflect.TypeOf(schild) {
				if err := CopyFields(dchild, schild); err != nil {
					return err
				}
			} else {
				setRecord(dfv, CloneRecord(schild))
			}
		case f.Type.Collection:
			schild, _ := recordOf(sfv)
			setRecord(dfv, CloneRecord(schild))
		default:
			dfv.Set(copyValue(sfv))
		}
	}
	dst.MarkChanged()
	return nil
}

func setRecord(fv reflect.Value, rec Record) {
	if isNilValue(rec) {
		fv.SetZero()
		return
	}
	fv.Set(reflect.ValueOf(rec))
}

// copyValue copies primitives, primitive slices and primitive maps so the
// result shares no backing storage with v.
func copyValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(out, v)
		return out
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out
	default:
		return v
	}
}
