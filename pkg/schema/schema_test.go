package schema

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Schema
	X float64 `schema:"number"`
	Y float64 `schema:"number"`
}

type circle struct {
	Schema
	Center *point  `schema:"ref"`
	Radius float32 `schema:"float32" default:"1.5"`
}

type label struct {
	Schema
	Text string `schema:"string"`
}

type arena struct {
	Schema
	Name   string                `schema:"string"`
	Tick   uint32                `schema:"uint32"`
	Alive  bool                  `schema:"boolean"`
	Points []float64             `schema:"[number]"`
	Tags   map[string]string     `schema:"{string}"`
	Origin *point                `schema:"ref"`
	Shapes *ArraySchema[*circle] `schema:"[ref]"`
	Named  *MapSchema[Record]    `schema:"{ref}"`
	local  int
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx := NewContext()
	_, err := ctx.Register(&arena{})
	require.NoError(t, err)
	_, err = ctx.Register(&label{})
	require.NoError(t, err)
	return ctx
}

func newArena() *arena {
	a := &arena{
		Name:   "arena",
		Tick:   3,
		Alive:  true,
		Points: []float64{1, 2.5},
		Tags:   map[string]string{"mode": "ffa"},
		Origin: &point{X: 1, Y: 2},
		Shapes: NewArraySchema(&circle{Center: &point{X: 3, Y: 4}, Radius: 2}),
		Named:  NewMapSchema[Record](),
	}
	a.Named.Set("title", &label{Text: "hello"})
	a.Named.Set("big", &circle{Center: &point{X: 9}, Radius: 10})
	return a
}

type syncPair struct {
	t   *testing.T
	enc *Encoder
	dec *Decoder
}

func (p syncPair) sync(src Record) []byte {
	p.t.Helper()
	patch, err := p.enc.Encode(src)
	require.NoError(p.t, err)
	require.NoError(p.t, p.dec.Decode(patch))
	return patch
}

func TestDescribe(t *testing.T) {
	def, err := Describe(reflect.TypeOf(&circle{}))
	require.NoError(t, err)
	require.Len(t, def.Fields, 2)

	assert.Equal(t, "Center", def.Fields[0].Name)
	assert.Equal(t, KindRef, def.Fields[0].Type.Kind)
	assert.Equal(t, "ref", def.Fields[0].Type.Tag())
	assert.Equal(t, float32(1.5), def.Fields[1].Default)
	assert.Equal(t, TypeID(def.Name), def.ID)

	again, err := Describe(reflect.TypeOf(circle{}))
	require.NoError(t, err)
	assert.Same(t, def, again)

	def, err = Describe(reflect.TypeOf(&arena{}))
	require.NoError(t, err)
	tags := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		tags[i] = f.Type.Tag()
	}
	assert.Equal(t, []string{"string", "uint32", "boolean", "[number]", "{string}", "ref", "[ref]", "{ref}"}, tags)
}

func TestDescribeErrors(t *testing.T) {
	type unknownTag struct {
		Schema
		X int `schema:"integer"`
	}
	type wrongKind struct {
		Schema
		X string `schema:"number"`
	}
	type valueRef struct {
		Schema
		P point `schema:"ref"`
	}
	type hidden struct {
		Schema
		x int64 `schema:"int64"`
	}
	type plain struct {
		X int `schema:"number"`
	}
	type wrongCollection struct {
		Schema
		P *ArraySchema[*point] `schema:"{ref}"`
	}
	type badDefault struct {
		Schema
		N int8 `schema:"int8" default:"300"`
	}

	for name, tc := range map[string]struct {
		proto any
		err   error
	}{
		"unknown tag":      {&unknownTag{}, ErrUnknownTag},
		"wrong kind":       {&wrongKind{}, ErrKindMismatch},
		"value ref":        {&valueRef{}, ErrKindMismatch},
		"unexported":       {&hidden{}, ErrUnexportedField},
		"not a record":     {&plain{}, ErrNotRecord},
		"wrong collection": {&wrongCollection{}, ErrKindMismatch},
		"bad default":      {&badDefault{}, ErrInvalidDefault},
	} {
		_, err := Describe(reflect.TypeOf(tc.proto))
		assert.ErrorIs(t, err, tc.err, name)
	}
}

func TestContextRegister(t *testing.T) {
	ctx := newTestContext(t)

	for _, proto := range []any{&arena{}, &circle{}, &point{}, &label{}} {
		def, ok := ctx.Definition(reflect.TypeOf(proto))
		require.True(t, ok, "%T", proto)
		byID, ok := ctx.ByID(def.ID)
		require.True(t, ok)
		assert.Same(t, def, byID)
	}
	assert.Len(t, ctx.Definitions(), 4)

	other := NewContext()
	_, err := other.Register(&label{})
	require.NoError(t, err)
	_, err = other.Register(&arena{})
	require.NoError(t, err)
	assert.Equal(t, ctx.Fingerprint(), other.Fingerprint())

	partial := NewContext()
	_, err = partial.Register(&point{})
	require.NoError(t, err)
	assert.NotEqual(t, ctx.Fingerprint(), partial.Fingerprint())
}

func TestFullRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	src := newArena()

	patch, err := NewEncoder(ctx).EncodeAll(src)
	require.NoError(t, err)

	dst := &arena{}
	require.NoError(t, NewDecoder(ctx, dst).Decode(patch))

	assert.Equal(t, "arena", dst.Name)
	assert.Equal(t, uint32(3), dst.Tick)
	assert.True(t, dst.Alive)
	assert.Equal(t, []float64{1, 2.5}, dst.Points)
	assert.Equal(t, map[string]string{"mode": "ffa"}, dst.Tags)
	require.NotNil(t, dst.Origin)
	assert.Equal(t, 1.0, dst.Origin.X)
	assert.Equal(t, 2.0, dst.Origin.Y)

	require.Equal(t, 1, dst.Shapes.Len())
	c, _ := dst.Shapes.At(0)
	assert.Equal(t, float32(2), c.Radius)
	assert.Equal(t, 3.0, c.Center.X)
	assert.Equal(t, 4.0, c.Center.Y)

	assert.Equal(t, []string{"title", "big"}, dst.Named.Keys())
	title, _ := dst.Named.Get("title")
	require.IsType(t, &label{}, title)
	assert.Equal(t, "hello", title.(*label).Text)
	big, _ := dst.Named.Get("big")
	require.IsType(t, &circle{}, big)
	assert.Equal(t, float32(10), big.(*circle).Radius)
	assert.Equal(t, 9.0, big.(*circle).Center.X)
}

func TestIncrementalPatches(t *testing.T) {
	ctx := newTestContext(t)
	src := newArena()
	dst := &arena{}
	p := syncPair{t: t, enc: NewEncoder(ctx), dec: NewDecoder(ctx, dst)}

	p.sync(src)
	assert.Equal(t, uint32(3), dst.Tick)

	patch, err := p.enc.Encode(src)
	require.NoError(t, err)
	assert.Nil(t, patch, "nothing changed")

	// primitive writes are only picked up once the record is marked
	src.Tick = 4
	patch, err = p.enc.Encode(src)
	require.NoError(t, err)
	assert.Nil(t, patch)

	src.MarkChanged()
	p.sync(src)
	assert.Equal(t, uint32(4), dst.Tick)

	// a marked parent diffs its nested records too
	src.Origin.X = 7
	src.MarkChanged()
	p.sync(src)
	assert.Equal(t, 7.0, dst.Origin.X)

	c, _ := src.Shapes.At(0)
	c.Center.Y = 40
	c.MarkChanged()
	p.sync(src)
	dc, _ := dst.Shapes.At(0)
	assert.Equal(t, 40.0, dc.Center.Y)
}

func TestCollectionListeners(t *testing.T) {
	ctx := newTestContext(t)
	src := &arena{Shapes: NewArraySchema[*circle]()}
	dst := &arena{Shapes: NewArraySchema[*circle]()}
	prewired := dst.Shapes
	p := syncPair{t: t, enc: NewEncoder(ctx), dec: NewDecoder(ctx, dst)}

	var added, removed []float32
	dst.Shapes.OnAdd(func(c *circle, _ int) { added = append(added, c.Radius) }, false)
	dst.Shapes.OnRemove(func(c *circle, _ int) { removed = append(removed, c.Radius) })

	localAdds := 0
	src.Shapes.OnAdd(func(*circle, int) { localAdds++ }, false)

	p.sync(src)
	assert.Same(t, prewired, dst.Shapes, "pre-wired collection is reused")

	a := &circle{Center: &point{}, Radius: 1}
	b := &circle{Center: &point{}, Radius: 2}
	src.Shapes.Push(a, b)
	p.sync(src)
	// listeners run after the fields of the new items were decoded
	assert.Equal(t, []float32{1, 2}, added)
	assert.Equal(t, 0, localAdds, "local mutations never notify")

	refs := p.dec.Refs()
	src.Shapes.Remove(a)
	p.sync(src)
	assert.Equal(t, []float32{1}, removed)
	assert.Equal(t, []float32{1, 2}, added, "shifted items are not re-added")
	assert.Equal(t, refs-2, p.dec.Refs(), "removed circle and its center are released")

	var replayed []float32
	detach := dst.Shapes.OnAdd(func(c *circle, _ int) { replayed = append(replayed, c.Radius) }, true)
	assert.Equal(t, []float32{2}, replayed)

	detach()
	src.Shapes.Push(&circle{Center: &point{}, Radius: 3})
	p.sync(src)
	assert.Equal(t, []float32{2}, replayed)
	assert.Equal(t, []float32{1, 2, 3}, added)
}

func TestMapListeners(t *testing.T) {
	ctx := newTestContext(t)
	src := &arena{Named: NewMapSchema[Record]()}
	dst := &arena{Named: NewMapSchema[Record]()}
	p := syncPair{t: t, enc: NewEncoder(ctx), dec: NewDecoder(ctx, dst)}

	var events []string
	dst.Named.OnAdd(func(_ Record, key string) { events = append(events, "+"+key) }, false)
	dst.Named.OnRemove(func(_ Record, key string) { events = append(events, "-"+key) })

	src.Named.Set("a", &label{Text: "a"})
	src.Named.Set("b", &label{Text: "b"})
	p.sync(src)
	assert.Equal(t, []string{"+a", "+b"}, events)

	events = nil
	src.Named.Delete("a")
	src.Named.Set("b", &label{Text: "b2"})
	p.sync(src)
	assert.Equal(t, []string{"-a", "-b", "+b"}, events)
	b, _ := dst.Named.Get("b")
	assert.Equal(t, "b2", b.(*label).Text)
}

func TestClearRefIDReplicatesAsNew(t *testing.T) {
	ctx := newTestContext(t)
	src := newArena()
	dst := &arena{}
	p := syncPair{t: t, enc: NewEncoder(ctx), dec: NewDecoder(ctx, dst)}
	p.sync(src)
	before := dst.Origin

	src.Origin.ClearRefID()
	src.Origin.X = 5
	p.sync(src)

	assert.NotSame(t, before, dst.Origin)
	assert.Equal(t, 5.0, dst.Origin.X)
	assert.NotZero(t, src.Origin.RefID())
}

func TestEncodeAllLeavesIncrementalState(t *testing.T) {
	ctx := newTestContext(t)
	src := newArena()
	enc := NewEncoder(ctx)

	_, err := enc.EncodeAll(src)
	require.NoError(t, err)

	// a late joiner gets everything, but the incremental stream still starts
	// with the whole tree for peers that only follow Encode
	patch, err := enc.Encode(src)
	require.NoError(t, err)
	dst := &arena{}
	require.NoError(t, NewDecoder(ctx, dst).Decode(patch))
	assert.Equal(t, "arena", dst.Name)
}

func TestUnregisteredType(t *testing.T) {
	ctx := NewContext()
	_, err := ctx.Register(&arena{})
	require.NoError(t, err)

	src := &arena{Named: NewMapSchema[Record]()}
	src.Named.Set("x", &label{})
	_, err = NewEncoder(ctx).Encode(src)
	assert.ErrorIs(t, err, ErrUnregisteredType)
}

func TestMalformedPatches(t *testing.T) {
	ctx := newTestContext(t)

	err := NewDecoder(ctx, &arena{}).Decode([]byte{1, opSwitch, 99})
	assert.ErrorIs(t, err, ErrUnknownRef)

	err = NewDecoder(ctx, &arena{}).Decode([]byte{1, 0x07})
	assert.ErrorIs(t, err, ErrMalformedPatch)

	err = NewDecoder(ctx, &arena{}).Decode([]byte{1, opField, 0})
	assert.ErrorIs(t, err, ErrMalformedPatch)

	full, err := NewEncoder(ctx).EncodeAll(newArena())
	require.NoError(t, err)
	err = NewDecoder(ctx, &arena{}).Decode(full[:len(full)-3])
	assert.ErrorIs(t, err, ErrMalformedPatch)

	assert.NoError(t, NewDecoder(ctx, &arena{}).Decode(nil))
}

func TestCloneAndCopy(t *testing.T) {
	ctx := newTestContext(t)
	src := newArena()
	_, err := NewEncoder(ctx).Encode(src)
	require.NoError(t, err)
	require.NotZero(t, src.Origin.RefID())

	c := CloneRecord(src).(*arena)
	assert.Zero(t, c.RefID())
	assert.Zero(t, c.Origin.RefID())
	assert.NotSame(t, src.Origin, c.Origin)
	assert.Equal(t, src.Origin.X, c.Origin.X)
	c.Points[0] = 99
	assert.Equal(t, 1.0, src.Points[0])
	require.Equal(t, 1, c.Shapes.Len())
	orig, _ := src.Shapes.At(0)
	cloned, _ := c.Shapes.At(0)
	assert.NotSame(t, orig, cloned)
	assert.Equal(t, orig.Radius, cloned.Radius)

	dst := &arena{Origin: &point{}}
	keep := dst.Origin
	require.NoError(t, CopyFields(dst, src))
	assert.Same(t, keep, dst.Origin)
	assert.Equal(t, 1.0, dst.Origin.X)
	assert.True(t, dst.IsChanged())
	assert.Equal(t, "arena", dst.Name)

	assert.ErrorIs(t, CopyFields(&point{}, &label{}), ErrTypeMismatch)
	assert.NoError(t, CopyFields(src, src))
}

func TestPrimitiveTags(t *testing.T) {
	tags := PrimitiveTags()
	assert.Contains(t, tags, "number")
	assert.Contains(t, tags, "uint64")
	assert.Len(t, tags, 13)
	for _, tag := range tags {
		assert.True(t, IsPrimitive(tag))
	}
	assert.False(t, IsPrimitive("ref"))
}
