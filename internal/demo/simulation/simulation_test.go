package simulation

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/ecsync"
	"github.com/zeusync/ecsync/pkg/schema"
)

func testConfig(entities int) config.Simulation {
	c := config.Default().Simulation
	c.Entities = entities
	return c
}

func newTestSimulation(t *testing.T, entities int) *Simulation {
	t.Helper()
	s, err := New(testConfig(entities), ecsync.WithLogger(log.NewNop()))
	require.NoError(t, err)
	return s
}

func addCircle(t *testing.T, s *Simulation, x, y, r float64) *ecsync.Entity {
	t.Helper()
	e, err := s.World.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, ecs.Add[*Circle](e, ecsync.Values{
		"Position": &Vector2{X: x, Y: y},
		"Radius":   r,
	}))
	return e
}

func moveTo(t *testing.T, e *ecsync.Entity, x, y float64) {
	t.Helper()
	c, ok := ecs.GetMutable[*Circle](e)
	require.True(t, ok)
	c.Position.Set(x, y)
}

func TestIntersect(t *testing.T) {
	circle := func(x, y, r float64) *Circle {
		return &Circle{Position: &Vector2{X: x, Y: y}, Radius: r}
	}

	points, ok := Intersect(circle(0, 0, 5), circle(6, 0, 5))
	require.True(t, ok)
	assert.InDelta(t, 3, points[0], 1e-9)
	assert.InDelta(t, 4, points[1], 1e-9)
	assert.InDelta(t, 3, points[2], 1e-9)
	assert.InDelta(t, -4, points[3], 1e-9)

	cases := map[string][2]*Circle{
		"tangent":          {circle(0, 0, 1), circle(2, 0, 1)},
		"internal tangent": {circle(0, 0, 3), circle(1, 0, 2)},
		"apart":            {circle(0, 0, 1), circle(5, 5, 1)},
		"contained":        {circle(0, 0, 5), circle(1, 0, 1)},
		"same centre":      {circle(2, 2, 1), circle(2, 2, 1)},
		"missing position": {{Radius: 1}, circle(0, 0, 1)},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := Intersect(c[0], c[1])
			assert.False(t, ok)
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Equal(t, mgl64.Vec2{800, 50}, wrap(mgl64.Vec2{-20, 50}, 10, 800, 600))
	assert.Equal(t, mgl64.Vec2{0, 50}, wrap(mgl64.Vec2{811, 50}, 10, 800, 600))
	assert.Equal(t, mgl64.Vec2{50, 610}, wrap(mgl64.Vec2{50, -11}, 10, 800, 600))
	assert.Equal(t, mgl64.Vec2{50, -10}, wrap(mgl64.Vec2{50, 611}, 10, 800, 600))
	assert.Equal(t, mgl64.Vec2{50, 50}, wrap(mgl64.Vec2{50, 50}, 10, 800, 600))
}

func TestTangentCirclesDoNotIntersect(t *testing.T) {
	s := newTestSimulation(t, 0)
	a := addCircle(t, s, 100, 100, 20)
	b := addCircle(t, s, 140, 100, 20)

	s.Step(16)
	assert.False(t, ecs.Has[*Intersecting](a))
	assert.False(t, ecs.Has[*Intersecting](b))

	moveTo(t, b, 130, 100)
	s.Step(16)
	require.True(t, ecs.Has[*Intersecting](a))
	assert.False(t, ecs.Has[*Intersecting](b), "only the earlier circle of a pair is marked")
	in, _ := ecs.Get[*Intersecting](a)
	require.Len(t, in.Pairs(), 1)
	assert.InDelta(t, 115, in.Pairs()[0][0], 1e-9)

	moveTo(t, b, 140, 100)
	s.Step(16)
	assert.False(t, ecs.Has[*Intersecting](a))
	assert.False(t, a.Components.Has("Intersecting"))
}

func TestMovement(t *testing.T) {
	s := newTestSimulation(t, 0)
	e := addCircle(t, s, 100, 100, 10)
	require.NoError(t, ecs.Add[*Movement](e, ecsync.Values{"Velocity": &Vector2{X: 10, Y: -5}}))

	s.Step(1000)
	c, _ := ecs.Get[*Circle](e)
	m, _ := ecs.Get[*Movement](e)
	assert.Equal(t, mgl64.Vec2{100, 100}, c.Position.Vec(), "acceleration starts at zero")
	assert.Equal(t, mgl64.Vec2{1, 1}, m.Acceleration.Vec())

	s.Step(1000)
	assert.InDelta(t, 110, c.Position.X, 1e-9)
	assert.InDelta(t, 95, c.Position.Y, 1e-9)
	assert.Equal(t, 2000.0, s.Elapsed())

	s.SetSpeedMultiplier(0)
	assert.Equal(t, 0.0, s.SpeedMultiplier())
	s.Step(1000)
	assert.InDelta(t, 110, c.Position.X, 1e-9)
}

func TestMovementNeedsTheSingleton(t *testing.T) {
	w := ecsync.NewWorld(ecsync.WithLogger(log.NewNop()))
	require.NoError(t, Register(w))
	require.NoError(t, w.RegisterSystem(&MovementSystem{}))

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, ecs.Add[*Circle](e, ecsync.Values{"Position": &Vector2{X: 5, Y: 5}, "Radius": 1.0}))
	require.NoError(t, ecs.Add[*Movement](e, ecsync.Values{
		"Velocity":     &Vector2{X: 1, Y: 1},
		"Acceleration": &Vector2{X: 1, Y: 1},
	}))

	sys := w.Systems()[0].(*MovementSystem)
	assert.False(t, sys.CanExecute())
	w.Execute(1000, 1)
	c, _ := ecs.Get[*Circle](e)
	assert.Equal(t, 5.0, c.Position.X)
}

func TestStopStripsIntersections(t *testing.T) {
	s := newTestSimulation(t, 0)
	a := addCircle(t, s, 100, 100, 20)
	addCircle(t, s, 110, 100, 20)
	s.Step(16)
	require.True(t, ecs.Has[*Intersecting](a))

	s.Stop()
	assert.False(t, ecs.Has[*Intersecting](a))
	_, removed := ecs.GetRemoved[*Intersecting](a)
	assert.False(t, removed)
	assert.False(t, s.World.Enabled())
}

func TestDefaults(t *testing.T) {
	s := newTestSimulation(t, 3)
	assert.Equal(t, 0.001, s.SpeedMultiplier())
	assert.Equal(t, 4, s.State.Entities.Len())

	w := ecsync.NewWorld(ecsync.WithLogger(log.NewNop()))
	require.NoError(t, Register(w))
	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, ecs.Add[*DemoSettings](e, nil))
	settings, ok := ecs.Get[*DemoSettings](e)
	require.True(t, ok)
	assert.Equal(t, 0.001, settings.SpeedMultiplier)
}

func TestMirrorFollowsSimulation(t *testing.T) {
	s := newTestSimulation(t, 20)
	mirror, err := NewMirror(0, ecsync.WithLogger(log.NewNop()))
	require.NoError(t, err)
	require.Equal(t, s.World.Context().Fingerprint(), mirror.World.Context().Fingerprint())

	enc := schema.NewEncoder(s.World.Context())
	dec := schema.NewDecoder(mirror.World.Context(), mirror.State)

	full, err := enc.Encode(s.State)
	require.NoError(t, err)
	require.NoError(t, dec.Decode(full))
	mirror.Execute(16, 0.016)

	for tick := 1; tick <= 10; tick++ {
		s.Step(1000.0 / 60)
		patch, err := enc.Encode(s.State)
		require.NoError(t, err)
		if patch != nil {
			require.NoError(t, dec.Decode(patch))
		}
		mirror.Execute(1000.0/60, float64(tick)/60)
	}

	summary := mirror.Report.Summary()
	assert.Equal(t, 20, summary.Circles)
	assert.Equal(t, 800.0, summary.Width)
	assert.Equal(t, 11, mirror.Report.Runs())

	intersecting := 0
	s.World.Entities().Each(func(e ecs.Entity) bool {
		got, ok := mirror.World.Entities().ByID(e.ID())
		require.True(t, ok)

		want, hasCircle := ecs.Get[*Circle](e)
		if hasCircle {
			c, ok := ecs.Get[*Circle](got)
			require.True(t, ok)
			assert.Equal(t, want.Position.Vec(), c.Position.Vec())
			assert.Equal(t, want.Radius, c.Radius)
		}

		assert.Equal(t, ecs.Has[*Intersecting](e), ecs.Has[*Intersecting](got))
		if in, ok := ecs.Get[*Intersecting](e); ok {
			intersecting++
			mirrored, _ := ecs.Get[*Intersecting](got)
			assert.Equal(t, in.Points, mirrored.Points)
		}
		return true
	})
	assert.Equal(t, intersecting, summary.Intersecting)
}
