package ecs

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/pkg/generic"
)

// Component is the contract every component satisfies. Concrete components
// are pointers to structs embedding BaseComponent (or TagComponent /
// SystemStateComponent); the engine always calls lifecycle methods through
// this interface, so methods declared on the outer struct take precedence.
type Component interface {
	// Copy overwrites the declared properties with src's and returns the receiver.
	Copy(src Component) Component
	// Clone returns a new, unpooled component holding a copy of the properties.
	Clone() Component
	// Reset restores every declared property to its default.
	Reset()
	// Dispose resets the component and hands it back to its pool.
	Dispose()

	base() *BaseComponent
}

// ChangeMarker is implemented by components that track their own mutations.
// GetMutableComponent marks them.
type ChangeMarker interface {
	MarkChanged()
}

// Values are initial property values keyed by property name.
type Values map[string]any

// BaseComponent carries the engine-side state of a component instance.
type BaseComponent struct {
	self  Component
	ctype *ComponentType
}

func (c *BaseComponent) base() *BaseComponent { return c }

// ComponentType returns the registered type the instance is bound to, or
// nil for instances the engine has not seen yet.
func (c *BaseComponent) ComponentType() *ComponentType { return c.ctype }

func (c *BaseComponent) Copy(src Component) Component {
	if c.ctype != nil && src != nil {
		c.ctype.copyProps(c.self, src)
	}
	return c.self
}

func (c *BaseComponent) Clone() Component {
	if c.ctype == nil {
		return c.self
	}
	clone := c.ctype.instantiate()
	clone.Copy(c.self)
	return clone
}

func (c *BaseComponent) Reset() {
	if c.ctype != nil {
		c.ctype.resetProps(c.self)
	}
}

func (c *BaseComponent) Dispose() {
	if c.ctype == nil {
		return
	}
	c.self.Reset()
	c.ctype.pool.Put(c.self)
}

// TagComponent is embedded by marker components that declare no properties.
type TagComponent struct {
	BaseComponent
}

func (TagComponent) IsTag() bool { return true }

// SystemStateComponent is embedded by components that outlive their entity:
// a removed entity stays queryable until all of its state components are gone.
type SystemStateComponent struct {
	BaseComponent
}

func (SystemStateComponent) IsSystemState() bool { return true }

type tagger interface{ IsTag() bool }

type stateful interface{ IsSystemState() bool }

type boundProp struct {
	Prop
	index []int
}

// ComponentType is a component registered with one World.
type ComponentType struct {
	ID   int
	Name string

	rtype  reflect.Type
	schema Schema
	props  []boundProp
	tag    bool
	state  bool
	pool   *generic.Pool[Component]
	owner  *componentManager
}

// Type is the struct type of the component.
func (ct *ComponentType) Type() reflect.Type { return ct.rtype }

// Schema returns a copy of the declared properties.
func (ct *ComponentType) Schema() Schema { return append(Schema(nil), ct.schema...) }

func (ct *ComponentType) IsTag() bool { return ct.tag }

func (ct *ComponentType) IsSystemState() bool { return ct.state }

func (ct *ComponentType) String() string { return ct.Name }

// Bind attaches an instance created outside the engine to this type so its
// lifecycle methods and pool work as if the engine had created it.
func (ct *ComponentType) Bind(c Component) error {
	if c == nil || reflect.TypeOf(c) != reflect.PointerTo(ct.rtype) {
		return fmt.Errorf("%w: %T is not a %s", ErrInvalidComponent, c, ct.Name)
	}
	b := c.base()
	b.self = c
	b.ctype = ct
	return nil
}

func (ct *ComponentType) instantiate() Component {
	c := reflect.New(ct.rtype).Interface().(Component)
	b := c.base()
	b.self = c
	b.ctype = ct
	c.Reset()
	return c
}

func (ct *ComponentType) acquire(values Values) (Component, error) {
	c := ct.pool.Get()
	if len(values) == 0 {
		return c, nil
	}
	if err := ct.apply(c, values); err != nil {
		c.Reset()
		ct.pool.Put(c)
		return nil, err
	}
	return c, nil
}

func (ct *ComponentType) prop(name string) (*boundProp, bool) {
	for i := range ct.props {
		if ct.props[i].Name == name {
			return &ct.props[i], true
		}
	}
	return nil, false
}

// apply copies initial values into c in declaration order.
func (ct *ComponentType) apply(c Component, values Values) error {
	for name := range values {
		if _, ok := ct.prop(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownProp, ct.Name, name)
		}
	}
	v := reflect.ValueOf(c).Elem()
	for _, p := range ct.props {
		val, ok := values[p.Name]
		if !ok {
			continue
		}
		fv := v.FieldByIndex(p.index)
		if err := setField(fv, p.Type.Copy(val, fv.Interface())); err != nil {
			return fmt.Errorf("%s.%s: %w", ct.Name, p.Name, err)
		}
	}
	return nil
}

func (ct *ComponentType) copyProps(dst, src Component) {
	if reflect.TypeOf(dst) != reflect.TypeOf(src) {
		return
	}
	dv, sv := reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem()
	for _, p := range ct.props {
		fv := dv.FieldByIndex(p.index)
		if err := setField(fv, p.Type.Copy(sv.FieldByIndex(p.index).Interface(), fv.Interface())); err != nil {
			ct.owner.log.Warn("property copy failed",
				log.String("component", ct.Name), log.String("prop", p.Name), log.Error(err))
		}
	}
}

func (ct *ComponentType) resetProps(c Component) {
	v := reflect.ValueOf(c).Elem()
	for _, p := range ct.props {
		def := p.Default
		if def == nil {
			def = p.Type.Default
		}
		fv := v.FieldByIndex(p.index)
		if def == nil {
			fv.SetZero()
			continue
		}
		if err := setField(fv, p.Type.Clone(def)); err != nil {
			fv.SetZero()
			ct.owner.log.Warn("property reset failed",
				log.String("component", ct.Name), log.String("prop", p.Name), log.Error(err))
		}
	}
}

type componentManager struct {
	byType   map[reflect.Type]*ComponentType
	byName   map[string]*ComponentType
	types    []*ComponentType
	counts   map[*ComponentType]int
	poolSize int
	log      log.Log
}

func newComponentManager(poolSize int, logger log.Log) *componentManager {
	return &componentManager{
		log:      logger,
		byType:   make(map[reflect.Type]*ComponentType),
		byName:   make(map[string]*ComponentType),
		counts:   make(map[*ComponentType]int),
		poolSize: poolSize,
	}
}

func (m *componentManager) register(proto Component, schema Schema) (*ComponentType, bool, error) {
	pt := reflect.TypeOf(proto)
	if pt == nil || pt.Kind() != reflect.Pointer || pt.Elem().Kind() != reflect.Struct {
		return nil, false, fmt.Errorf("%w: %T is not a pointer to a struct", ErrInvalidComponent, proto)
	}
	rt := pt.Elem()

	if existing, ok := m.byType[rt]; ok {
		if !existing.schema.Equal(schema) {
			return nil, false, fmt.Errorf("%w: %s re-registered with a different schema", ErrConflictingRegistration, existing.Name)
		}
		return existing, false, nil
	}
	if other, ok := m.byName[rt.Name()]; ok {
		return nil, false, fmt.Errorf("%w: name %s is taken by %s", ErrConflictingRegistration, rt.Name(), other.rtype)
	}

	ct := &ComponentType{
		ID:     len(m.types),
		Name:   rt.Name(),
		rtype:  rt,
		schema: append(Schema(nil), schema...),
		owner:  m,
	}
	if t, ok := proto.(tagger); ok {
		ct.tag = t.IsTag()
	}
	if s, ok := proto.(stateful); ok {
		ct.state = s.IsSystemState()
	}
	if len(schema) == 0 && !ct.tag {
		return nil, false, fmt.Errorf("%w: %s", ErrEmptySchema, ct.Name)
	}

	seen := make(map[string]struct{}, len(schema))
	for _, p := range schema {
		if p.Type == nil {
			return nil, false, fmt.Errorf("%w: %s.%s has no type", ErrInvalidType, ct.Name, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, false, fmt.Errorf("%w: %s.%s declared twice", ErrInvalidComponent, ct.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		sf, ok := rt.FieldByName(p.Name)
		if !ok || !sf.IsExported() {
			return nil, false, fmt.Errorf("%w: %s has no exported field %s", ErrUnknownProp, ct.Name, p.Name)
		}
		ct.props = append(ct.props, boundProp{Prop: p, index: sf.Index})
	}

	generate := ct.instantiate
	if m.poolSize > 0 {
		ct.pool = generic.NewHotPool(generate, m.poolSize)
	} else {
		ct.pool = generic.NewPool(generate)
	}

	m.byType[rt] = ct
	m.byName[ct.Name] = ct
	m.types = append(m.types, ct)
	return ct, true, nil
}

func (m *componentManager) lookup(proto Component) (*ComponentType, bool) {
	t := reflect.TypeOf(proto)
	if t == nil {
		return nil, false
	}
	return m.lookupType(t)
}

func (m *componentManager) lookupType(t reflect.Type) (*ComponentType, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	ct, ok := m.byType[t]
	return ct, ok
}

func (m *componentManager) resolve(protos []Component) ([]*ComponentType, error) {
	out := make([]*ComponentType, 0, len(protos))
	for _, p := range protos {
		ct, ok := m.lookup(p)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnregisteredComponent, p)
		}
		out = append(out, ct)
	}
	return out, nil
}

func (m *componentManager) addedToEntity(ct *ComponentType) { m.counts[ct]++ }

func (m *componentManager) removedFromEntity(ct *ComponentType) { m.counts[ct]-- }

// typeNames renders component types for query keys and logs.
func typeNames(types []*ComponentType, prefix string) []string {
	names := make([]string, len(types))
	for i, ct := range types {
		names[i] = prefix + ct.Name
	}
	sort.Strings(names)
	return names
}

func joinTypeNames(types []*ComponentType) string {
	return strings.Join(typeNames(types, ""), ",")
}
