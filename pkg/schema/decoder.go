package schema

import (
	"fmt"
	"reflect"
)

// Decoder applies patches produced by an Encoder onto a local root record.
// Collection listeners run after the whole patch has been applied, in the
// order the changes appeared. A patch that fails halfway keeps what was
// applied before the failure and still notifies the listeners for it.
type Decoder struct {
	ctx        *Context
	root       Record
	refs       map[uint32]Record
	pending    []func()
	structural bool
}

func NewDecoder(ctx *Context, root Record) *Decoder {
	return &Decoder{
		ctx:  ctx,
		root: root,
		refs: make(map[uint32]Record),
	}
}

func (d *Decoder) Root() Record { return d.root }

// Ref returns the live record registered under id.
func (d *Decoder) Ref(id uint32) (Record, bool) {
	r, ok := d.refs[id]
	return r, ok
}

// Refs is the number of live records known to the decoder.
func (d *Decoder) Refs() int { return len(d.refs) }

// Decode applies one patch. An empty patch is a no-op.
func (d *Decoder) Decode(patch []byte) error {
	if len(patch) == 0 {
		return nil
	}
	r := &reader{data: patch}
	rootID, err := r.uvarint()
	if err != nil {
		return err
	}
	if err := d.bindRoot(uint32(rootID)); err != nil {
		return err
	}

	d.pending = d.pending[:0]
	err = d.apply(r)

	// whatever was applied before a failure is announced, so listeners
	// never lag behind the state they mirror
	if d.structural {
		d.collect()
	}
	pending := d.pending
	d.pending = nil
	for _, notify := range pending {
		notify()
	}
	return err
}

func (d *Decoder) apply(r *reader) error {
	var cur Record
	for !r.done() {
		op, err := r.byte()
		if err != nil {
			return err
		}
		switch op {
		case opSwitch:
			id, err := r.uvarint()
			if err != nil {
				return err
			}
			rec, ok := d.refs[uint32(id)]
			if !ok {
				return fmt.Errorf("%w: %d", ErrUnknownRef, id)
			}
			cur = rec
		case opField:
			if cur == nil {
				return fmt.Errorf("%w: field outside of a ref", ErrMalformedPatch)
			}
			idx, err := r.uvarint()
			if err != nil {
				return err
			}
			if err := d.decodeField(r, cur, int(idx)); err != nil {
				return err
			}
		case opEntries:
			c, ok := cur.(collection)
			if !ok {
				return fmt.Errorf("%w: entries for a non-collection ref", ErrMalformedPatch)
			}
			if err := d.decodeEntries(r, c); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown op 0x%02x at byte %d", ErrMalformedPatch, op, r.pos-1)
		}
	}
	return nil
}

func (d *Decoder) bindRoot(id uint32) error {
	if existing, ok := d.refs[id]; ok {
		if existing != d.root {
			return fmt.Errorf("%w: root ref %d is bound to another record", ErrTypeMismatch, id)
		}
		return nil
	}
	if old := d.root.RefID(); old != 0 {
		delete(d.refs, old)
	}
	d.root.schemaState().refID = id
	d.refs[id] = d.root
	return nil
}

func (d *Decoder) decodeField(r *reader, rec Record, idx int) error {
	v := reflect.ValueOf(rec).Elem()
	def, ok := d.ctx.Definition(v.Type())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredType, v.Type())
	}
	if idx < 0 || idx >= len(def.Fields) {
		return fmt.Errorf("%w: field %d of %s", ErrMalformedPatch, idx, def.Name)
	}
	f := def.Fields[idx]
	fv := v.FieldByIndex(f.Index)
	if !f.Type.IsRef() {
		return readValue(r, fv)
	}

	current, err := recordOf(fv)
	if err != nil {
		return err
	}
	val, err := d.readRef(r, f.GoType, current)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
	}
	if current != nil && val != current {
		d.structural = true
	}
	if val == nil {
		fv.SetZero()
		return nil
	}
	rv := reflect.ValueOf(val)
	if !rv.Type().AssignableTo(fv.Type()) {
		return fmt.Errorf("%w: %s into %s.%s", ErrTypeMismatch, rv.Type(), def.Name, f.Name)
	}
	fv.Set(rv)
	return nil
}

func (d *Decoder) decodeEntries(r *reader, c collection) error {
	n, err := r.uvarint()
	if err != nil {
		return err
	}
	if n > uint64(len(r.data)-r.pos) {
		return r.short()
	}
	current := make(map[string]Record)
	for _, en := range c.entries() {
		if rec, ok := en.value.(Record); ok && !isNilValue(rec) {
			current[en.key] = rec
		}
	}

	entries := make([]entry, n)
	for i := range entries {
		key, err := r.string()
		if err != nil {
			return err
		}
		val, err := d.readRef(r, c.itemType(), current[key])
		if err != nil {
			return err
		}
		entries[i].key = key
		if val != nil {
			entries[i].value = val
		}
	}
	notify, err := c.replace(entries)
	if err != nil {
		return err
	}
	d.pending = append(d.pending, notify)
	d.structural = true
	return nil
}

// readRef reads a ref and resolves it to a live record. New refs reuse the
// record already sitting in the slot when it has never been bound, which
// lets callers wire listeners on collections before the first patch.
func (d *Decoder) readRef(r *reader, slot reflect.Type, current Record) (Record, error) {
	raw, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if raw == 0 {
		return nil, nil
	}
	id := uint32(raw)
	isNew, err := r.byte()
	if err != nil {
		return nil, err
	}
	if isNew == 0 {
		rec, ok := d.refs[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRef, id)
		}
		return rec, nil
	}

	typeID, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if rec, ok := d.refs[id]; ok && d.fits(rec, typeID, slot) {
		return rec, nil
	}
	if current != nil && current.RefID() == 0 && d.fits(current, typeID, slot) {
		current.schemaState().refID = id
		d.refs[id] = current
		return current, nil
	}
	rec, err := d.instantiate(typeID, slot)
	if err != nil {
		return nil, err
	}
	rec.schemaState().refID = id
	d.refs[id] = rec
	return rec, nil
}

func (d *Decoder) fits(rec Record, typeID uint64, slot reflect.Type) bool {
	t := reflect.TypeOf(rec)
	if !t.AssignableTo(slot) {
		return false
	}
	if typeID == 0 {
		return t.Implements(collectionType)
	}
	def, ok := d.ctx.ByID(typeID)
	return ok && t.Elem() == def.Type
}

func (d *Decoder) instantiate(typeID uint64, slot reflect.Type) (Record, error) {
	if typeID == 0 {
		if slot.Kind() != reflect.Pointer || !slot.Implements(collectionType) {
			return nil, fmt.Errorf("%w: untyped ref for %s", ErrUnknownType, slot)
		}
		return reflect.New(slot.Elem()).Interface().(Record), nil
	}
	def, ok := d.ctx.ByID(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}
	inst := reflect.New(def.Type)
	if !inst.Type().AssignableTo(slot) {
		return nil, fmt.Errorf("%w: %s into %s", ErrTypeMismatch, inst.Type(), slot)
	}
	return inst.Interface().(Record), nil
}

// collect drops refs that are no longer reachable from the root.
func (d *Decoder) collect() {
	reachable := make(map[uint32]struct{}, len(d.refs))
	var walk func(rec Record)
	walk = func(rec Record) {
		id := rec.RefID()
		if id == 0 {
			return
		}
		if _, seen := reachable[id]; seen {
			return
		}
		reachable[id] = struct{}{}
		if c, ok := rec.(collection); ok {
			for _, en := range c.entries() {
				if child, ok := en.value.(Record); ok && !isNilValue(child) {
					walk(child)
				}
			}
			return
		}
		v := reflect.ValueOf(rec).Elem()
		def, ok := d.ctx.Definition(v.Type())
		if !ok {
			return
		}
		for _, f := range def.Fields {
			if !f.Type.IsRef() {
				continue
			}
			if child, err := recordOf(v.FieldByIndex(f.Index)); err == nil && child != nil {
				walk(child)
			}
		}
	}
	walk(d.root)

	for id := range d.refs {
		if _, ok := reachable[id]; !ok {
			delete(d.refs, id)
		}
	}
	d.structural = false
}
