// Package simulation is the circle intersection demo: circles drift across
// a canvas on the authority side, intersections are recomputed every tick,
// and receivers mirror the replicated state through an auto-decoding world.
package simulation

import (
	"fmt"
	"math/rand"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/ecsync"
)

// Simulation is the authority side of the demo.
type Simulation struct {
	World *ecsync.World
	State *State

	singleton *ecsync.Entity
	elapsed   float64
}

// New builds the authority world: components, systems, the singleton
// entity holding the canvas and the settings, and cfg.Entities circles.
func New(cfg config.Simulation, opts ...ecsync.Option) (*Simulation, error) {
	w := ecsync.NewWorld(append(opts, ecsync.WithRole(ecsync.RoleAuthority))...)
	if err := Register(w); err != nil {
		return nil, err
	}
	s := &Simulation{World: w, State: NewState()}
	w.UseEntities(s.State.Entities)

	if err := w.RegisterSystem(&MovementSystem{}); err != nil {
		return nil, err
	}
	if err := w.RegisterSystem(&IntersectionSystem{}, ecs.WithPriority(1)); err != nil {
		return nil, err
	}

	singleton, err := w.CreateEntity()
	if err != nil {
		return nil, err
	}
	if err = ecs.Add[*CanvasContext](singleton, ecsync.Values{"Width": cfg.Width, "Height": cfg.Height}); err != nil {
		return nil, err
	}
	if err = ecs.Add[*DemoSettings](singleton, ecsync.Values{"SpeedMultiplier": cfg.SpeedMultiplier}); err != nil {
		return nil, err
	}
	s.singleton = singleton

	if err = s.Populate(cfg, rand.New(rand.NewSource(cfg.Seed))); err != nil {
		return nil, err
	}
	w.Logger().Info("simulation ready",
		log.Int("circles", cfg.Entities),
		log.Float64("width", cfg.Width),
		log.Float64("height", cfg.Height),
	)
	return s, nil
}

// Populate adds cfg.Entities moving circles at random places.
func (s *Simulation) Populate(cfg config.Simulation, rng *rand.Rand) error {
	random := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	for i := 0; i < cfg.Entities; i++ {
		e, err := s.World.CreateEntity()
		if err != nil {
			return err
		}
		err = ecs.Add[*Circle](e, ecsync.Values{
			"Position": (&Vector2{}).Set(random(0, cfg.Width), random(0, cfg.Height)),
			"Radius":   random(cfg.MinRadius, cfg.MaxRadius),
		})
		if err != nil {
			return fmt.Errorf("circle %d: %w", i, err)
		}
		err = ecs.Add[*Movement](e, ecsync.Values{
			"Velocity": (&Vector2{}).Set(random(-20, 20), random(-20, 20)),
		})
		if err != nil {
			return fmt.Errorf("movement %d: %w", i, err)
		}
	}
	return nil
}

// Step advances the simulation by delta milliseconds.
func (s *Simulation) Step(delta float64) {
	s.elapsed += delta
	s.World.Execute(delta, s.elapsed)
}

// Elapsed is the simulated time in milliseconds.
func (s *Simulation) Elapsed() float64 { return s.elapsed }

// SetSpeedMultiplier changes the movement speed of every circle.
func (s *Simulation) SetSpeedMultiplier(m float64) {
	if settings, ok := ecs.GetMutable[*DemoSettings](s.singleton); ok {
		settings.SpeedMultiplier = m
	}
}

func (s *Simulation) SpeedMultiplier() float64 {
	settings, _ := ecs.Get[*DemoSettings](s.singleton)
	return settings.SpeedMultiplier
}

// Stop stops the systems and strips the intersections.
func (s *Simulation) Stop() { s.World.Stop() }

// Mirror is the receiving side of the demo: a world fed by a decoder.
type Mirror struct {
	World  *ecsync.World
	State  *State
	Report *ReportSystem
}

// NewMirror builds a receiver world whose entity list is State.Entities.
// Decode patches into State, then call Execute.
func NewMirror(reportEvery int, opts ...ecsync.Option) (*Mirror, error) {
	w := ecsync.NewWorld(append(opts, ecsync.WithRole(ecsync.RoleReceiver))...)
	if err := Register(w); err != nil {
		return nil, err
	}
	m := &Mirror{World: w, State: NewState(), Report: NewReportSystem(reportEvery)}
	if err := w.RegisterSystem(m.Report); err != nil {
		return nil, err
	}
	w.UseEntities(m.State.Entities)
	return m, nil
}

// Execute runs the receiver systems over the mirrored state.
func (m *Mirror) Execute(delta, t float64) { m.World.Execute(delta, t) }

func (m *Mirror) Stop() { m.World.Stop() }
