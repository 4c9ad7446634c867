package simulation

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/ecsync"
)

// MovementSystem moves every circle by its velocity scaled by its
// acceleration, decays the acceleration towards 1 and wraps circles that
// leave the canvas around to the opposite edge.
type MovementSystem struct {
	ecsync.BaseSystem
}

func (s *MovementSystem) Queries() map[string]ecsync.QueryConfig {
	return map[string]ecsync.QueryConfig{
		"entities": {Include: []ecs.Component{&Circle{}, &Movement{}}},
		"context":  {Include: []ecs.Component{&CanvasContext{}, &DemoSettings{}}, Mandatory: true},
	}
}

func (s *MovementSystem) Execute(delta, _ float64) {
	singleton := s.Query("context").Results()
	if len(singleton) == 0 {
		return
	}
	canvas, _ := ecs.Get[*CanvasContext](singleton[0])
	settings, _ := ecs.Get[*DemoSettings](singleton[0])
	step := delta * settings.SpeedMultiplier

	for _, e := range s.Query("entities").Results() {
		circle, _ := ecs.GetMutable[*Circle](e)
		movement, _ := ecs.GetMutable[*Movement](e)

		vel, acc := movement.Velocity.Vec(), movement.Acceleration.Vec()
		pos := circle.Position.Vec().Add(mgl64.Vec2{vel.X() * acc.X(), vel.Y() * acc.Y()}.Mul(step))

		for i := range acc {
			if acc[i] > 1 {
				acc[i] -= step
			}
			acc[i] = max(acc[i], 1)
		}
		movement.Acceleration.SetVec(acc)
		circle.Position.SetVec(wrap(pos, circle.Radius, canvas.Width, canvas.Height))
	}
}

func wrap(pos mgl64.Vec2, r, width, height float64) mgl64.Vec2 {
	switch {
	case pos.Y()+r < 0:
		pos[1] = height + r
	case pos.Y()-r > height:
		pos[1] = -r
	}
	switch {
	case pos.X()-r > width:
		pos[0] = 0
	case pos.X()+r < 0:
		pos[0] = width
	}
	return pos
}

// IntersectionSystem recomputes, every tick, which circles cross the
// circles after them. A circle gets Intersecting while it crosses at least
// one other and loses it once it crosses none.
type IntersectionSystem struct {
	ecsync.BaseSystem
}

func (s *IntersectionSystem) Queries() map[string]ecsync.QueryConfig {
	return map[string]ecsync.QueryConfig{
		"entities": {Include: []ecs.Component{&Circle{}}},
	}
}

func (s *IntersectionSystem) Execute(_, _ float64) {
	entities := s.Query("entities").Results()
	for i, e := range entities {
		if in, ok := ecs.GetMutable[*Intersecting](e); ok {
			in.Points = nil
		}
		circle, _ := ecs.Get[*Circle](e)

		for _, other := range entities[i+1:] {
			circleB, _ := ecs.Get[*Circle](other)
			points, ok := Intersect(circle, circleB)
			if !ok {
				continue
			}
			if !ecs.Has[*Intersecting](e) {
				if err := ecs.Add[*Intersecting](e, nil); err != nil {
					s.World().Logger().Warn("intersecting not added", log.Uint64("entity", e.ID()), log.Error(err))
					continue
				}
			}
			in, _ := ecs.GetMutable[*Intersecting](e)
			in.Points = append(in.Points, points[:]...)
		}

		if in, ok := ecs.Get[*Intersecting](e); ok && len(in.Points) == 0 {
			ecs.Remove[*Intersecting](e, false)
		}
	}
}

// Stop also strips every Intersecting, so a stopped world replicates no
// stale intersections.
func (s *IntersectionSystem) Stop() {
	s.BaseSystem.Stop()
	for _, e := range s.Query("entities").Results() {
		ecs.Remove[*Intersecting](e, false)
	}
}

// Summary is what a ReportSystem saw on its last run.
type Summary struct {
	Circles      int
	Intersecting int
	Points       int
	Width        float64
	Height       float64
}

// ReportSystem summarizes the mirrored state on the receiving side.
type ReportSystem struct {
	ecsync.BaseSystem

	runs    int
	every   int
	summary Summary
}

// NewReportSystem logs a summary every n runs; n <= 0 never logs.
func NewReportSystem(n int) *ReportSystem {
	return &ReportSystem{every: n}
}

func (s *ReportSystem) Queries() map[string]ecsync.QueryConfig {
	return map[string]ecsync.QueryConfig{
		"circles":      {Include: []ecs.Component{&Circle{}}},
		"intersecting": {Include: []ecs.Component{&Intersecting{}}},
		"context":      {Include: []ecs.Component{&CanvasContext{}}, Mandatory: true},
	}
}

func (s *ReportSystem) Execute(_, _ float64) {
	canvas, _ := ecs.Get[*CanvasContext](s.Query("context").Results()[0])
	sum := Summary{
		Circles: s.Query("circles").Query().Len(),
		Width:   canvas.Width,
		Height:  canvas.Height,
	}
	for _, e := range s.Query("intersecting").Results() {
		if in, ok := ecs.Get[*Intersecting](e); ok {
			sum.Intersecting++
			sum.Points += len(in.Points) / 2
		}
	}
	s.summary = sum
	s.runs++

	if s.every > 0 && s.runs%s.every == 0 {
		s.World().Logger().Info("state summary",
			log.Int("circles", sum.Circles),
			log.Int("intersecting", sum.Intersecting),
			log.Int("points", sum.Points),
			log.Float64("width", sum.Width),
			log.Float64("height", sum.Height),
		)
	}
}

func (s *ReportSystem) Summary() Summary { return s.summary }

func (s *ReportSystem) Runs() int { return s.runs }
