package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	tagName        = "schema"
	defaultTagName = "default"
	refTag         = "ref"
)

type FieldKind uint8

const (
	KindPrimitive FieldKind = iota + 1
	KindRef
	KindArray
	KindMap
)

func (k FieldKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindRef:
		return "ref"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// FieldType is the parsed form of a field's type tag.
type FieldType struct {
	Kind FieldKind
	// Primitive is the primitive tag of the field, or of its elements for
	// primitive arrays and maps. Empty for refs and ref collections.
	Primitive string
	// Collection is set for [ref] and {ref}, backed by ArraySchema/MapSchema.
	Collection bool
	// Elem is the referenced type for refs and the item type for ref collections.
	Elem reflect.Type
}

// Tag renders the field type back into tag syntax.
func (ft FieldType) Tag() string {
	inner := ft.Primitive
	if ft.Kind == KindRef || ft.Collection {
		inner = refTag
	}
	switch ft.Kind {
	case KindArray:
		return "[" + inner + "]"
	case KindMap:
		return "{" + inner + "}"
	default:
		return inner
	}
}

// IsRef reports whether values of this field are replicated by reference.
func (ft FieldType) IsRef() bool {
	return ft.Kind == KindRef || ft.Collection
}

// Field is one declared, replicated field.
type Field struct {
	Name    string
	Index   []int
	GoType  reflect.Type
	Type    FieldType
	Default any
}

// Definition is the structural reflection of one record type.
type Definition struct {
	Name   string
	ID     uint64
	Type   reflect.Type
	Fields []Field
}

// Field looks a declared field up by name.
func (d *Definition) Field(name string) (*Field, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// Equal reports whether two definitions declare the same field shape.
func (d *Definition) Equal(other *Definition) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil || d.Name != other.Name || len(d.Fields) != len(other.Fields) {
		return false
	}
	for i := range d.Fields {
		a, b := d.Fields[i], other.Fields[i]
		if a.Name != b.Name || a.Type.Tag() != b.Type.Tag() || a.GoType != b.GoType {
			return false
		}
	}
	return true
}

var (
	recordType     = reflect.TypeOf((*Record)(nil)).Elem()
	collectionType = reflect.TypeOf((*collection)(nil)).Elem()

	primitiveKinds = map[string][]reflect.Kind{
		"string":  {reflect.String},
		"boolean": {reflect.Bool},
		"number": {
			reflect.Float64, reflect.Float32,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		},
		"int8":    {reflect.Int8},
		"uint8":   {reflect.Uint8},
		"int16":   {reflect.Int16},
		"uint16":  {reflect.Uint16},
		"int32":   {reflect.Int32},
		"uint32":  {reflect.Uint32},
		"int64":   {reflect.Int64, reflect.Int},
		"uint64":  {reflect.Uint64, reflect.Uint},
		"float32": {reflect.Float32},
		"float64": {reflect.Float64},
	}

	definitions sync.Map // reflect.Type -> *Definition
)

// PrimitiveTags lists every primitive type tag, sorted.
func PrimitiveTags() []string {
	tags := make([]string, 0, len(primitiveKinds))
	for tag := range primitiveKinds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// IsPrimitive reports whether tag names a primitive type.
func IsPrimitive(tag string) bool {
	_, ok := primitiveKinds[tag]
	return ok
}

// TypeName is the registry name of a record type: import path plus type name.
func TypeName(t reflect.Type) string {
	t = structType(t)
	if t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// TypeID hashes a registry name into the id carried on the wire.
func TypeID(name string) uint64 {
	return xxhash.Sum64String(name)
}

// Describe reflects a record type (struct or pointer to struct) into its
// Definition. Results are cached per type.
func Describe(t reflect.Type) (*Definition, error) {
	t = structType(t)
	if cached, ok := definitions.Load(t); ok {
		return cached.(*Definition), nil
	}
	if t.Kind() != reflect.Struct || !reflect.PointerTo(t).Implements(recordType) {
		return nil, fmt.Errorf("%w: %s", ErrNotRecord, t)
	}
	if reflect.PointerTo(t).Implements(collectionType) {
		return nil, fmt.Errorf("%w: %s is a collection", ErrNotRecord, t)
	}

	name := TypeName(t)
	def := &Definition{Name: name, ID: TypeID(name), Type: t}
	for _, sf := range reflect.VisibleFields(t) {
		tag, ok := sf.Tag.Lookup(tagName)
		if !ok || sf.Anonymous {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnexportedField, t.Name(), sf.Name)
		}
		if throughPointer(t, sf.Index) {
			continue
		}
		ft, err := parseFieldType(strings.TrimSpace(tag), sf.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
		}
		field := Field{Name: sf.Name, Index: sf.Index, GoType: sf.Type, Type: ft}
		if raw, ok := sf.Tag.Lookup(defaultTagName); ok {
			if ft.Kind != KindPrimitive {
				return nil, fmt.Errorf("%s.%s: %w: defaults apply to primitives only", t.Name(), sf.Name, ErrInvalidDefault)
			}
			if field.Default, err = parseDefault(sf.Type, raw); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
			}
		}
		def.Fields = append(def.Fields, field)
	}

	actual, _ := definitions.LoadOrStore(t, def)
	return actual.(*Definition), nil
}

func parseFieldType(tag string, t reflect.Type) (FieldType, error) {
	switch {
	case tag == refTag:
		if !isRecordRef(t) {
			return FieldType{}, fmt.Errorf("%w: %q needs a record pointer or interface, got %s", ErrKindMismatch, tag, t)
		}
		return FieldType{Kind: KindRef, Elem: t}, nil

	case len(tag) > 2 && tag[0] == '[' && tag[len(tag)-1] == ']':
		return parseCollection(KindArray, tag[1:len(tag)-1], t)

	case len(tag) > 2 && tag[0] == '{' && tag[len(tag)-1] == '}':
		return parseCollection(KindMap, tag[1:len(tag)-1], t)

	case IsPrimitive(tag):
		if !kindAllowed(tag, t.Kind()) {
			return FieldType{}, fmt.Errorf("%w: %q cannot hold %s", ErrKindMismatch, tag, t)
		}
		return FieldType{Kind: KindPrimitive, Primitive: tag}, nil

	default:
		return FieldType{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

func parseCollection(kind FieldKind, inner string, t reflect.Type) (FieldType, error) {
	if inner == refTag {
		if !t.Implements(collectionType) {
			return FieldType{}, fmt.Errorf("%w: %s needs a schema collection, got %s", ErrKindMismatch, kind, t)
		}
		c := reflect.Zero(t).Interface().(collection)
		if c.keyed() != (kind == KindMap) {
			return FieldType{}, fmt.Errorf("%w: %s tag on %s", ErrKindMismatch, kind, t)
		}
		item := c.itemType()
		if !isRecordRef(item) {
			return FieldType{}, fmt.Errorf("%w: collection items must be records, got %s", ErrKindMismatch, item)
		}
		return FieldType{Kind: kind, Collection: true, Elem: item}, nil
	}

	if !IsPrimitive(inner) {
		return FieldType{}, fmt.Errorf("%w: %q", ErrUnknownTag, inner)
	}
	switch kind {
	case KindArray:
		if t.Kind() != reflect.Slice || !kindAllowed(inner, t.Elem().Kind()) {
			return FieldType{}, fmt.Errorf("%w: [%s] cannot hold %s", ErrKindMismatch, inner, t)
		}
	case KindMap:
		if t.Kind() != reflect.Map || t.Key().Kind() != reflect.String || !kindAllowed(inner, t.Elem().Kind()) {
			return FieldType{}, fmt.Errorf("%w: {%s} cannot hold %s", ErrKindMismatch, inner, t)
		}
	}
	return FieldType{Kind: kind, Primitive: inner}, nil
}

func parseDefault(t reflect.Type, raw string) (any, error) {
	v := reflect.New(t).Elem()
	var err error
	switch t.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(raw); err == nil {
			v.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		if i, err = strconv.ParseInt(raw, 10, t.Bits()); err == nil {
			v.SetInt(i)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		if u, err = strconv.ParseUint(raw, 10, t.Bits()); err == nil {
			v.SetUint(u)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(raw, t.Bits()); err == nil {
			v.SetFloat(f)
		}
	default:
		err = fmt.Errorf("unsupported kind %s", t.Kind())
	}
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidDefault, raw, err)
	}
	return v.Interface(), nil
}

func kindAllowed(tag string, kind reflect.Kind) bool {
	for _, k := range primitiveKinds[tag] {
		if k == kind {
			return true
		}
	}
	return false
}

// isRecordRef accepts interfaces and pointers to record structs.
func isRecordRef(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Pointer:
		return t.Elem().Kind() == reflect.Struct &&
			t.Implements(recordType) &&
			!t.Implements(collectionType)
	default:
		return false
	}
}

func structType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// throughPointer reports whether a promoted field is reached through an
// embedded pointer, which FieldByIndex cannot traverse safely.
func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Pointer {
			return true
		}
		t = f.Type
	}
	return false
}
