package simulation

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/ecsync"
	"github.com/zeusync/ecsync/pkg/schema"
)

// Vector2 is a replicated 2D vector.
type Vector2 struct {
	schema.Schema
	X float64 `schema:"number"`
	Y float64 `schema:"number"`
}

func (v *Vector2) Set(x, y float64) *Vector2 {
	v.X, v.Y = x, y
	v.MarkChanged()
	return v
}

func (v *Vector2) Vec() mgl64.Vec2 { return mgl64.Vec2{v.X, v.Y} }

func (v *Vector2) SetVec(p mgl64.Vec2) *Vector2 { return v.Set(p.X(), p.Y()) }

type Circle struct {
	ecsync.Component
	Position     *Vector2 `schema:"ref"`
	Radius       float64  `schema:"number"`
	Velocity     *Vector2 `schema:"ref"`
	Acceleration *Vector2 `schema:"ref"`
}

type Movement struct {
	ecsync.Component
	Velocity     *Vector2 `schema:"ref"`
	Acceleration *Vector2 `schema:"ref"`
}

// CanvasContext is the size of the simulated area. It lives on the
// singleton entity.
type CanvasContext struct {
	ecsync.Component
	Width  float64 `schema:"number"`
	Height float64 `schema:"number"`
}

// DemoSettings lives on the singleton entity next to CanvasContext.
type DemoSettings struct {
	ecsync.Component
	SpeedMultiplier float64 `schema:"number" default:"0.001"`
}

// Intersecting holds the intersection points of a circle with the circles
// after it, four numbers (x1, y1, x2, y2) per intersecting pair.
type Intersecting struct {
	ecsync.Component
	Points []float64 `schema:"[number]"`
}

// Pairs returns the point pairs held in Points.
func (in *Intersecting) Pairs() [][4]float64 {
	pairs := make([][4]float64, 0, len(in.Points)/4)
	for i := 0; i+4 <= len(in.Points); i += 4 {
		pairs = append(pairs, [4]float64(in.Points[i:i+4]))
	}
	return pairs
}

// State is the replicated root of a room.
type State struct {
	schema.Schema
	Entities *schema.ArraySchema[*ecsync.Entity] `schema:"[ref]"`
}

func NewState() *State {
	return &State{Entities: schema.NewArraySchema[*ecsync.Entity]()}
}

// Components lists the demo component prototypes in registration order.
func Components() []ecs.Component {
	return []ecs.Component{
		&Circle{},
		&Movement{},
		&Intersecting{},
		&CanvasContext{},
		&DemoSettings{},
	}
}

// Register registers the demo components and the state root with w.
func Register(w *ecsync.World) error {
	for _, proto := range Components() {
		if _, err := w.RegisterComponent(proto); err != nil {
			return err
		}
	}
	_, err := w.Context().Register(&State{})
	return err
}
