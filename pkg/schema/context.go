package schema

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Context is the set of record types two peers agree on. Encoders need every
// reachable concrete type registered so they can tag new refs with a type
// id; decoders resolve those ids back to Go types.
type Context struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Definition
	byID   map[uint64]*Definition
}

func NewContext() *Context {
	return &Context{
		byType: make(map[reflect.Type]*Definition),
		byID:   make(map[uint64]*Definition),
	}
}

// Register adds proto's type, and every record type statically reachable
// from its fields, to the context. Registering the same type again is a no-op.
func (c *Context) Register(proto Record) (*Definition, error) {
	return c.RegisterType(reflect.TypeOf(proto))
}

// RegisterType is Register for a reflect.Type (struct or pointer to struct).
func (c *Context) RegisterType(t reflect.Type) (*Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerLocked(structType(t))
}

func (c *Context) registerLocked(t reflect.Type) (*Definition, error) {
	if def, ok := c.byType[t]; ok {
		return def, nil
	}
	def, err := Describe(t)
	if err != nil {
		return nil, err
	}
	if other, ok := c.byID[def.ID]; ok && other.Type != t {
		return nil, fmt.Errorf("%w: %s and %s", ErrTypeIDCollision, other.Name, def.Name)
	}
	c.byType[t] = def
	c.byID[def.ID] = def

	for _, f := range def.Fields {
		if !f.Type.IsRef() || f.Type.Elem.Kind() != reflect.Pointer {
			continue
		}
		if _, err := c.registerLocked(f.Type.Elem.Elem()); err != nil {
			delete(c.byType, t)
			delete(c.byID, def.ID)
			return nil, err
		}
	}
	return def, nil
}

// Definition returns the registered definition of t (struct or pointer).
func (c *Context) Definition(t reflect.Type) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.byType[structType(t)]
	return def, ok
}

// ByID resolves a wire type id.
func (c *Context) ByID(id uint64) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.byID[id]
	return def, ok
}

// Definitions lists registered definitions sorted by name.
func (c *Context) Definitions() []*Definition {
	c.mu.RLock()
	defs := make([]*Definition, 0, len(c.byType))
	for _, def := range c.byType {
		defs = append(defs, def)
	}
	c.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Fingerprint hashes the registered shapes, independent of registration
// order. Peers with different fingerprints cannot exchange patches.
func (c *Context) Fingerprint() uint64 {
	h := xxhash.New()
	for _, def := range c.Definitions() {
		_, _ = h.WriteString(def.Name)
		for _, f := range def.Fields {
			_, _ = h.WriteString("|" + f.Name + ":" + f.Type.Tag())
		}
		_, _ = h.WriteString(";")
	}
	return h.Sum64()
}
