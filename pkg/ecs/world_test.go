package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/ecsync/internal/core/events/bus"
	"github.com/zeusync/ecsync/internal/core/observability/log"
)

type position struct {
	BaseComponent
	X, Y float64
}

type velocity struct {
	BaseComponent
	X, Y float64
}

type frozen struct {
	TagComponent
}

type tracked struct {
	SystemStateComponent
	Label string
}

type counted struct {
	BaseComponent
	N      float64
	resets int
}

func (c *counted) Reset() {
	c.resets++
	c.BaseComponent.Reset()
}

type marked struct {
	BaseComponent
	V       float64
	changes int
}

func (m *marked) MarkChanged() { m.changes++ }

var xySchema = Schema{{Name: "X", Type: Types.Number}, {Name: "Y", Type: Types.Number}}

func newTestWorld(t *testing.T, opts ...Option) *World {
	t.Helper()
	w := NewWorld(opts...)
	_, err := w.RegisterComponent(&position{}, xySchema)
	require.NoError(t, err)
	_, err = w.RegisterComponent(&velocity{}, xySchema)
	require.NoError(t, err)
	_, err = w.RegisterComponent(&frozen{}, nil)
	require.NoError(t, err)
	_, err = w.RegisterComponent(&tracked{}, Schema{{Name: "Label", Type: Types.String}})
	require.NoError(t, err)
	_, err = w.RegisterComponent(&counted{}, Schema{{Name: "N", Type: Types.Number, Default: 5.0}})
	require.NoError(t, err)
	_, err = w.RegisterComponent(&marked{}, Schema{{Name: "V", Type: Types.Number}})
	require.NoError(t, err)
	return w
}

func TestCreateType(t *testing.T) {
	typ, err := CreateType(TypeSpec{
		Name:  "Pair",
		Copy:  func(src, _ any) any { return src },
		Clone: func(src any) any { return src },
	})
	require.NoError(t, err)
	assert.Equal(t, "Pair", typ.Name)

	_, err = CreateType(TypeSpec{Name: "NoCopy", Clone: func(src any) any { return src }})
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = CreateType(TypeSpec{Copy: func(src, _ any) any { return src }, Clone: func(src any) any { return src }})
	assert.ErrorIs(t, err, ErrInvalidType)
}

type gauge struct {
	BaseComponent
	Level float64
}

func TestMismatchedTypeValuesAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := NewWorld(WithLogger(log.NewWithCore(core)))
	text, err := CreateType(TypeSpec{
		Name:  "Text",
		Copy:  func(_, _ any) any { return "text" },
		Clone: func(_ any) any { return "text" },
	})
	require.NoError(t, err)
	_, err = w.RegisterComponent(&gauge{}, Schema{{Name: "Level", Type: text, Default: 3.0}})
	require.NoError(t, err)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, Add[*gauge](e, nil))
	g, _ := Get[*gauge](e)
	assert.Zero(t, g.Level)
	assert.NotZero(t, logs.FilterMessage("property reset failed").Len())

	g.Level = 4
	g.Copy(&gauge{Level: 9})
	assert.Equal(t, 4.0, g.Level)
	entries := logs.FilterMessage("property copy failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "gauge", entries[0].ContextMap()["component"])
	assert.Equal(t, "Level", entries[0].ContextMap()["prop"])
}

func TestDeepCopy(t *testing.T) {
	src := map[string]any{"list": []any{1.0, map[string]any{"k": "v"}}, "n": 2}
	out := DeepCopy(src).(map[string]any)
	assert.Equal(t, src, out)

	out["list"].([]any)[1].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", src["list"].([]any)[1].(map[string]any)["k"])
	assert.Nil(t, DeepCopy(nil))
}

func TestRegisterComponent(t *testing.T) {
	w := newTestWorld(t)

	ct, ok := TypeOf[*position](w)
	require.True(t, ok)
	assert.Equal(t, "position", ct.Name)

	again, err := w.RegisterComponent(&position{}, xySchema)
	require.NoError(t, err)
	assert.Same(t, ct, again)

	_, err = w.RegisterComponent(&position{}, Schema{{Name: "X", Type: Types.Number}})
	assert.ErrorIs(t, err, ErrConflictingRegistration)

	type empty struct{ BaseComponent }
	_, err = w.RegisterComponent(&empty{}, nil)
	assert.ErrorIs(t, err, ErrEmptySchema)

	type typo struct {
		BaseComponent
		X float64
	}
	_, err = w.RegisterComponent(&typo{}, Schema{{Name: "Z", Type: Types.Number}})
	assert.ErrorIs(t, err, ErrUnknownProp)
	assert.False(t, w.HasRegisteredComponent(&typo{}))

	tag, ok := TypeOf[*frozen](w)
	require.True(t, ok)
	assert.True(t, tag.IsTag())
	state, _ := TypeOf[*tracked](w)
	assert.True(t, state.IsSystemState())
}

func TestEntityQueryLifecycle(t *testing.T) {
	w := newTestWorld(t)
	q, err := w.Query(QueryConfig{Include: []Component{&position{}, &velocity{}}})
	require.NoError(t, err)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	assert.True(t, e.Alive())
	assert.Equal(t, uint64(1), e.ID())

	require.NoError(t, Add[*position](e, Values{"X": 1, "Y": 2}))
	assert.False(t, q.Has(e))

	require.NoError(t, Add[*velocity](e, Values{"X": 3}))
	assert.True(t, q.Has(e))

	p, ok := Get[*position](e)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 2.0, p.Y)

	v, _ := Get[*velocity](e)
	require.True(t, Remove[*velocity](e, false))
	assert.False(t, q.Has(e))
	assert.False(t, Has[*velocity](e))
	removed, ok := GetRemoved[*velocity](e)
	require.True(t, ok, "removed component stays readable until the tick ends")
	assert.Same(t, v, removed)
	assert.Equal(t, 3.0, removed.X)

	w.Execute(0.016, 1)
	_, ok = GetRemoved[*velocity](e)
	assert.False(t, ok)
	assert.Equal(t, 0.0, v.X, "disposed instances are reset")

	vt, _ := TypeOf[*velocity](w)
	assert.Equal(t, 1, vt.pool.TotalFree())
	require.NoError(t, Add[*velocity](e, nil))
	reused, _ := Get[*velocity](e)
	assert.Same(t, v, reused, "pooled instance is reused")
	assert.True(t, q.Has(e))

	require.True(t, Remove[*position](e, true))
	_, ok = GetRemoved[*position](e)
	assert.False(t, ok, "immediate removal skips the deferred window")
	assert.False(t, q.Has(e))
}

func TestAddComponentErrors(t *testing.T) {
	w := newTestWorld(t)
	e, err := w.CreateEntity()
	require.NoError(t, err)

	require.NoError(t, Add[*position](e, nil))
	assert.ErrorIs(t, Add[*position](e, nil), ErrDuplicateComponent)

	err = Add[*velocity](e, Values{"Z": 1})
	assert.ErrorIs(t, err, ErrUnknownProp)
	assert.False(t, Has[*velocity](e))

	type stranger struct {
		BaseComponent
		A float64
	}
	assert.ErrorIs(t, Add[*stranger](e, nil), ErrUnregisteredComponent)

	other := newTestWorld(t)
	foreign, _ := TypeOf[*velocity](other)
	assert.ErrorIs(t, e.base().AddComponent(foreign, nil), ErrUnregisteredComponent)

	assert.ErrorIs(t, Add[*position](&EntityBase{}, nil), ErrUnregisteredComponent)
	assert.ErrorIs(t, (&EntityBase{}).AddComponent(foreign, nil), ErrDetachedEntity)
}

func TestResetOverrideRunsOnDispose(t *testing.T) {
	w := newTestWorld(t)
	e, _ := w.CreateEntity()

	require.NoError(t, Add[*counted](e, Values{"N": 9}))
	c, _ := Get[*counted](e)
	assert.Equal(t, 1, c.resets, "fresh instances are reset once")
	assert.Equal(t, 9.0, c.N)

	Remove[*counted](e, true)
	assert.Equal(t, 2, c.resets)
	assert.Equal(t, 5.0, c.N, "declared default restored")
}

func TestMutableAccessMarksChanged(t *testing.T) {
	w := newTestWorld(t)
	e, _ := w.CreateEntity()
	require.NoError(t, Add[*marked](e, nil))

	m, _ := Get[*marked](e)
	assert.Equal(t, 0, m.changes)
	_, ok := GetMutable[*marked](e)
	require.True(t, ok)
	assert.Equal(t, 1, m.changes)

	_, ok = GetMutable[*position](e)
	assert.False(t, ok)
}

func TestExcludeQuery(t *testing.T) {
	w := newTestWorld(t)
	q, err := w.Query(QueryConfig{Include: []Component{&position{}}, Exclude: []Component{&frozen{}}})
	require.NoError(t, err)

	e, _ := w.CreateEntity()
	require.NoError(t, Add[*position](e, nil))
	assert.True(t, q.Has(e))

	require.NoError(t, Add[*frozen](e, nil))
	assert.False(t, q.Has(e))

	Remove[*frozen](e, false)
	assert.True(t, q.Has(e))

	all, err := w.Query(QueryConfig{})
	require.NoError(t, err)
	assert.True(t, all.Has(e), "zero-component queries match every entity")
	bare, _ := w.CreateEntity()
	assert.True(t, all.Has(bare))
}

func TestSystemStateKeepsEntity(t *testing.T) {
	w := newTestWorld(t)
	e, _ := w.CreateEntity()
	require.NoError(t, Add[*tracked](e, Values{"Label": "x"}))
	require.NoError(t, Add[*position](e, nil))

	cleanup, err := w.Query(QueryConfig{Include: []Component{&tracked{}}, Exclude: []Component{&position{}}})
	require.NoError(t, err)
	assert.False(t, cleanup.Has(e))

	require.NoError(t, e.base().Remove(false))
	assert.False(t, e.Alive())
	assert.True(t, cleanup.Has(e), "removed entity is still visible to its state queries")

	w.Execute(0.016, 1)
	_, ok := w.Entities().ByID(e.ID())
	assert.True(t, ok)
	assert.Equal(t, 1, w.Entities().Len())

	Remove[*tracked](e, false)
	assert.False(t, cleanup.Has(e))
	w.Execute(0.016, 2)
	_, ok = w.Entities().ByID(e.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, w.Entities().Len())
}

type moveSystem struct {
	BaseSystem
	order                   *[]string
	added, removed, changed []int
}

func (s *moveSystem) Queries() map[string]QueryConfig {
	return map[string]QueryConfig{
		"moving": {
			Include: []Component{&position{}, &velocity{}},
			Listen:  Listen{Added: true, Removed: true, Changed: true},
		},
	}
}

func (s *moveSystem) Execute(delta, _ float64) {
	*s.order = append(*s.order, "move")
	r := s.Query("moving")
	s.added = append(s.added, len(r.Added))
	s.removed = append(s.removed, len(r.Removed))
	s.changed = append(s.changed, len(r.Changed))
	for _, e := range r.Results() {
		p, _ := Get[*position](e)
		v, _ := Get[*velocity](e)
		p.X += v.X * delta
	}
}

type freezeSystem struct {
	BaseSystem
	order   *[]string
	stopped bool
}

func (s *freezeSystem) Queries() map[string]QueryConfig {
	return map[string]QueryConfig{
		"frozen": {Include: []Component{&frozen{}}, Mandatory: true},
	}
}

func (s *freezeSystem) Execute(float64, float64) {
	*s.order = append(*s.order, "freeze")
}

func (s *freezeSystem) Stop() {
	s.stopped = true
	for _, e := range s.Query("frozen").Results() {
		Remove[*frozen](e, false)
	}
	s.BaseSystem.Stop()
}

func TestSystems(t *testing.T) {
	w := newTestWorld(t)
	var order []string
	move := &moveSystem{order: &order}
	freeze := &freezeSystem{order: &order}
	require.NoError(t, w.RegisterSystem(move, WithPriority(2)))
	require.NoError(t, w.RegisterSystem(freeze, WithPriority(1)))
	assert.ErrorIs(t, w.RegisterSystem(&moveSystem{order: &order}), ErrSystemRegistered)

	e, _ := w.CreateEntity()
	require.NoError(t, Add[*position](e, nil))
	require.NoError(t, Add[*velocity](e, Values{"X": 2}))

	w.Execute(0.5, 0.5)
	assert.Equal(t, []string{"move"}, order, "mandatory query is empty")
	p, _ := Get[*position](e)
	assert.Equal(t, 1.0, p.X)

	_, _ = GetMutable[*velocity](e)
	require.NoError(t, Add[*frozen](e, nil))
	w.Execute(0.5, 1)
	assert.Equal(t, []string{"move", "freeze", "move"}, order)

	Remove[*velocity](e, false)
	w.Execute(0.5, 1.5)

	assert.Equal(t, []int{1, 0, 0}, move.added)
	assert.Equal(t, []int{0, 1, 0}, move.changed)
	assert.Equal(t, []int{0, 0, 1}, move.removed)

	stats := w.Stats()
	require.Len(t, stats.Systems, 2)
	assert.Equal(t, "freezeSystem", stats.Systems[0].Name)
	assert.Equal(t, 1, stats.Entities)

	w.Stop()
	assert.True(t, freeze.stopped)
	assert.False(t, Has[*frozen](e))
	_, ok := GetRemoved[*frozen](e)
	assert.False(t, ok, "stop flushes deferred removals")
	assert.False(t, w.Enabled())

	before := len(order)
	w.Execute(0.5, 2)
	assert.Len(t, order, before)
}

func TestSystemWithUnregisteredQuery(t *testing.T) {
	w := NewWorld()
	var order []string
	err := w.RegisterSystem(&moveSystem{order: &order})
	assert.ErrorIs(t, err, ErrUnregisteredComponent)
	assert.Empty(t, w.Systems())
}

func TestLifecycleEvents(t *testing.T) {
	events := bus.New()
	w := newTestWorld(t, WithEventBus(events))

	var seen []string
	for _, typ := range []string{EventEntityCreated, EventComponentAdded, EventComponentRemoved, EventEntityRemoved} {
		_, err := events.Subscribe(typ, func(ev bus.Event) error {
			seen = append(seen, ev.Type())
			return nil
		})
		require.NoError(t, err)
	}

	e, _ := w.CreateEntity()
	require.NoError(t, Add[*position](e, nil))
	require.NoError(t, e.base().Remove(true))

	assert.Equal(t, []string{EventEntityCreated, EventComponentAdded, EventComponentRemoved, EventEntityRemoved}, seen)
}

func TestExternalStoreAdoption(t *testing.T) {
	w := newTestWorld(t)
	ct, _ := TypeOf[*position](w)
	store := NewSliceStore()
	w.UseEntityStore(store)
	q, err := w.Query(QueryConfig{Include: []Component{&position{}}})
	require.NoError(t, err)

	e := &EntityBase{}
	store.Append(e)
	assert.False(t, e.Alive(), "constructed is not alive")

	require.NoError(t, w.Entities().Adopt(e, 7))
	require.NoError(t, w.Entities().Adopt(e, 7))
	assert.True(t, e.Alive())
	assert.Equal(t, uint64(7), e.ID())

	c := &position{X: 3}
	e.store().Set(ct, c)
	require.NoError(t, w.Entities().AttachComponent(e, ct, c))
	assert.True(t, q.Has(e))
	got, _ := Get[*position](e)
	assert.Same(t, c, got)
	assert.Equal(t, 3.0, got.X, "values are not re-applied")

	e.store().Delete(ct)
	require.True(t, w.Entities().DetachComponent(e, ct, c))
	assert.False(t, q.Has(e))
	removed, ok := GetRemoved[*position](e)
	require.True(t, ok)
	assert.Same(t, c, removed)
	w.Execute(0.016, 1)
	_, ok = GetRemoved[*position](e)
	assert.False(t, ok)
	assert.Equal(t, 3.0, c.X, "external instances are not disposed")

	store.Remove(e)
	require.True(t, w.Entities().Drop(e))
	assert.False(t, e.Alive())
	_, ok = w.Entities().ByID(7)
	assert.False(t, ok)

	next, err := w.CreateEntity()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next.ID())
}

func TestUseEntityStoreRescansQueries(t *testing.T) {
	w := newTestWorld(t)
	q, err := w.Query(QueryConfig{Include: []Component{&position{}}})
	require.NoError(t, err)

	e, _ := w.CreateEntity()
	require.NoError(t, Add[*position](e, nil))
	require.True(t, q.Has(e))

	kept, _ := w.CreateEntity()
	require.NoError(t, Add[*position](kept, nil))

	next := NewSliceStore()
	next.Append(kept)
	w.UseEntityStore(next)
	assert.False(t, q.Has(e))
	assert.True(t, q.Has(kept))
	assert.Equal(t, 1, w.Entities().Len())

	assert.False(t, e.Alive(), "entities left behind are released")
	_, ok := w.Entities().ByID(e.ID())
	assert.False(t, ok)
	assert.True(t, kept.Alive())
	_, ok = w.Entities().ByID(kept.ID())
	assert.True(t, ok)
}
