package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Encoder turns a record tree into patches. It assigns ref ids to records
// the first time it reaches them and keeps a snapshot of what every peer
// already holds, so successive Encode calls only carry differences.
//
// An Encoder is not safe for concurrent use; it is meant to be driven by
// the same loop that mutates the tree.
type Encoder struct {
	ctx       *Context
	nextRefID uint32
	snapshots map[uint32][]string
	visited   map[uint32]struct{}
	full      bool
	ops       int
	w         writer
	scratch   writer
}

func NewEncoder(ctx *Context) *Encoder {
	return &Encoder{
		ctx:       ctx,
		snapshots: make(map[uint32][]string),
	}
}

// Encode returns the changes since the previous Encode call, or nil when
// nothing changed. The first call carries the whole tree.
func (e *Encoder) Encode(root Record) ([]byte, error) {
	patch, err := e.encode(root, false)
	if err != nil || e.ops == 0 {
		return nil, err
	}
	return patch, nil
}

// EncodeAll returns the whole tree as a single patch, for peers that join
// late. It leaves the incremental state untouched.
func (e *Encoder) EncodeAll(root Record) ([]byte, error) {
	return e.encode(root, true)
}

func (e *Encoder) encode(root Record, full bool) ([]byte, error) {
	if isNilValue(root) {
		return nil, fmt.Errorf("%w: nil root", ErrNotRecord)
	}
	e.full = full
	e.ops = 0
	e.visited = make(map[uint32]struct{})
	e.w.reset()

	rootID := e.assign(root)
	e.w.uvarint(uint64(rootID))
	if err := e.visit(root, false); err != nil {
		return nil, err
	}

	if !full {
		for id := range e.snapshots {
			if _, ok := e.visited[id]; !ok {
				delete(e.snapshots, id)
			}
		}
	}
	return append([]byte(nil), e.w.bytes()...), nil
}

func (e *Encoder) assign(r Record) uint32 {
	s := r.schemaState()
	if s.refID == 0 {
		e.nextRefID++
		s.refID = e.nextRefID
	}
	return s.refID
}

func (e *Encoder) isNew(id uint32) bool {
	if e.full {
		return true
	}
	_, known := e.snapshots[id]
	return !known
}

func (e *Encoder) visit(r Record, parentChanged bool) error {
	id := r.RefID()
	if _, seen := e.visited[id]; seen {
		return nil
	}
	e.visited[id] = struct{}{}
	if c, ok := r.(collection); ok {
		return e.visitCollection(c, id)
	}
	return e.visitRecord(r, id, parentChanged)
}

func (e *Encoder) visitRecord(r Record, id uint32, parentChanged bool) error {
	v := reflect.ValueOf(r).Elem()
	def, ok := e.ctx.Definition(v.Type())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredType, v.Type())
	}

	s := r.schemaState()
	snap := e.snapshots[id]
	fresh := e.isNew(id)
	changed := s.changed || parentChanged
	diffPrimitives := fresh || changed

	next := make([]string, len(def.Fields))
	children := make([]Record, 0, 2)
	header := false
	writeHeader := func() {
		if !header {
			e.w.byte(opSwitch)
			e.w.uvarint(uint64(id))
			header = true
		}
	}

	for i, f := range def.Fields {
		fv := v.FieldByIndex(f.Index)

		if f.Type.IsRef() {
			child, err := recordOf(fv)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
			}
			var childID uint32
			if child != nil {
				childID = e.assign(child)
				children = append(children, child)
			}
			cur := strconv.FormatUint(uint64(childID), 10)
			if fresh || snap[i] != cur {
				writeHeader()
				e.w.byte(opField)
				e.w.uvarint(uint64(i))
				if err := e.writeRef(child, childID); err != nil {
					return err
				}
				e.ops++
			}
			next[i] = cur
			continue
		}

		if !diffPrimitives {
			next[i] = snap[i]
			continue
		}
		e.scratch.reset()
		if err := writeValue(&e.scratch, fv); err != nil {
			return fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
		}
		cur := string(e.scratch.bytes())
		if fresh || snap[i] != cur {
			writeHeader()
			e.w.byte(opField)
			e.w.uvarint(uint64(i))
			e.w.buf = append(e.w.buf, e.scratch.bytes()...)
			e.ops++
		}
		next[i] = cur
	}

	if !e.full {
		e.snapshots[id] = next
		s.changed = false
	}

	for _, child := range children {
		if err := e.visit(child, changed); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) visitCollection(c collection, id uint32) error {
	entries := c.entries()
	items := make([]Record, len(entries))
	ids := make([]uint32, len(entries))

	var sb strings.Builder
	for i, en := range entries {
		if !isNilValue(en.value) {
			rec, ok := en.value.(Record)
			if !ok {
				return fmt.Errorf("%w: collection item %T", ErrTypeMismatch, en.value)
			}
			items[i] = rec
			ids[i] = e.assign(rec)
		}
		sb.WriteString(en.key)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatUint(uint64(ids[i]), 10))
		sb.WriteByte(';')
	}
	cur := sb.String()

	snap := e.snapshots[id]
	if e.isNew(id) || len(snap) == 0 || snap[0] != cur {
		e.w.byte(opSwitch)
		e.w.uvarint(uint64(id))
		e.w.byte(opEntries)
		e.w.uvarint(uint64(len(entries)))
		for i, en := range entries {
			e.w.string(en.key)
			if err := e.writeRef(items[i], ids[i]); err != nil {
				return err
			}
		}
		e.ops++
	}

	if !e.full {
		e.snapshots[id] = []string{cur}
		c.schemaState().changed = false
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		if err := e.visit(item, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeRef(child Record, id uint32) error {
	if child == nil {
		e.w.uvarint(0)
		return nil
	}
	e.w.uvarint(uint64(id))
	if !e.isNew(id) {
		e.w.byte(0)
		return nil
	}
	e.w.byte(1)
	if _, ok := child.(collection); ok {
		e.w.uvarint(0)
		return nil
	}
	def, ok := e.ctx.Definition(reflect.TypeOf(child))
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnregisteredType, child)
	}
	e.w.uvarint(def.ID)
	return nil
}

// recordOf extracts the record held by a ref or collection field.
func recordOf(fv reflect.Value) (Record, error) {
	if fv.IsNil() {
		return nil, nil
	}
	v := fv.Interface()
	if isNilValue(v) {
		return nil, nil
	}
	rec, ok := v.(Record)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a record", ErrTypeMismatch, v)
	}
	return rec, nil
}
