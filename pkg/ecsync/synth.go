package ecsync

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/schema"
)

type cacheKey struct {
	ctx  *schema.Context
	name string
}

// TypeCache memoizes the engine types synthesized for nested record types
// and the property schemas built for component types, per schema context.
// The engine compares types by identity, so every component sharing a
// nested type within one context must see the same *ecs.Type.
type TypeCache struct {
	mu          sync.Mutex
	types       map[cacheKey]*ecs.Type
	descriptors map[cacheKey]ecs.Schema
}

func NewTypeCache() *TypeCache {
	return &TypeCache{
		types:       make(map[cacheKey]*ecs.Type),
		descriptors: make(map[cacheKey]ecs.Schema),
	}
}

// Synthesize returns the engine type for a nested record definition. Its
// default is a fresh record carrying the declared field defaults, copy
// writes field by field into an existing record and clone deep-clones.
func (c *TypeCache) Synthesize(ctx *schema.Context, def *schema.Definition) (*ecs.Type, error) {
	key := cacheKey{ctx: ctx, name: def.Name}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.types[key]; ok {
		return t, nil
	}
	t, err := ecs.CreateType(ecs.TypeSpec{
		Name:    def.Name,
		Default: newRecord(def),
		Copy:    copyRecord,
		Clone:   cloneRecord,
	})
	if err != nil {
		return nil, err
	}
	c.types[key] = t
	return t, nil
}

// Descriptor returns the property schema of a component definition,
// building it on first use.
func (c *TypeCache) Descriptor(ctx *schema.Context, def *schema.Definition) (ecs.Schema, error) {
	key := cacheKey{ctx: ctx, name: def.Name}
	c.mu.Lock()
	if d, ok := c.descriptors[key]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	props := make(ecs.Schema, 0, len(def.Fields))
	for _, f := range def.Fields {
		p, err := c.prop(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
		}
		props = append(props, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.descriptors[key]; ok {
		return d, nil
	}
	c.descriptors[key] = props
	return props, nil
}

func (c *TypeCache) prop(ctx *schema.Context, f schema.Field) (ecs.Prop, error) {
	p := ecs.Prop{Name: f.Name}
	switch f.Type.Kind {
	case schema.KindPrimitive:
		t, ok := MapType(f.Type.Primitive)
		if !ok {
			return p, fmt.Errorf("%w: %q", ErrUnresolvableField, f.Type.Primitive)
		}
		p.Type, p.Default = t, f.Default

	case schema.KindRef:
		if f.Type.Elem.Kind() == reflect.Interface {
			p.Type = ecs.Types.Ref
			break
		}
		nested, ok := ctx.Definition(f.Type.Elem)
		if !ok {
			var err error
			if nested, err = ctx.RegisterType(f.Type.Elem); err != nil {
				return p, fmt.Errorf("%w: %w", ErrUnresolvableField, err)
			}
		}
		t, err := c.Synthesize(ctx, nested)
		if err != nil {
			return p, err
		}
		p.Type = t

	case schema.KindArray, schema.KindMap:
		p.Type = ecs.Types.Array
		if f.Type.Kind == schema.KindMap {
			p.Type = ecs.Types.JSON
		}
		if f.Type.Collection {
			p.Default = reflect.New(f.GoType.Elem()).Interface()
		}

	default:
		return p, fmt.Errorf("%w: %s", ErrUnresolvableField, f.Type.Tag())
	}
	return p, nil
}

// Reset empties the cache.
func (c *TypeCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.types)
	clear(c.descriptors)
}

// Len is the number of synthesized types.
func (c *TypeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.types)
}

func newRecord(def *schema.Definition) schema.Record {
	v := reflect.New(def.Type)
	for _, f := range def.Fields {
		if f.Default != nil {
			v.Elem().FieldByIndex(f.Index).Set(reflect.ValueOf(f.Default))
		}
	}
	return v.Interface().(schema.Record)
}

func copyRecord(src, dst any) any {
	s, ok := src.(schema.Record)
	if !ok || isNilRecord(s) {
		return nil
	}
	if d, ok := dst.(schema.Record); ok && !isNilRecord(d) && reflect.TypeOf(d) == reflect.TypeOf(s) {
		if err := schema.CopyFields(d, s); err == nil {
			return d
		}
	}
	return schema.CloneRecord(s)
}

func cloneRecord(src any) any {
	s, ok := src.(schema.Record)
	if !ok || isNilRecord(s) {
		return nil
	}
	return schema.CloneRecord(s)
}

func isNilRecord(r schema.Record) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
