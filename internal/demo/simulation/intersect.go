package simulation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Intersect returns the two points where the outlines of a and b cross.
// Circles that only touch, one inside the other, or share a centre do not
// intersect.
func Intersect(a, b *Circle) ([4]float64, bool) {
	if a == nil || b == nil || a.Position == nil || b.Position == nil {
		return [4]float64{}, false
	}
	return intersect(a.Position.Vec(), a.Radius, b.Position.Vec(), b.Radius)
}

func intersect(pa mgl64.Vec2, ra float64, pb mgl64.Vec2, rb float64) ([4]float64, bool) {
	delta := pb.Sub(pa)
	d := delta.Len()
	if d == 0 || d >= ra+rb || d <= math.Abs(ra-rb) {
		return [4]float64{}, false
	}

	// distance from pa to the chord joining the two points
	along := (ra*ra - rb*rb + d*d) / (2 * d)
	mid := pa.Add(delta.Mul(along / d))
	h := math.Sqrt(ra*ra - along*along)
	offset := mgl64.Vec2{-delta.Y(), delta.X()}.Mul(h / d)

	p1, p2 := mid.Add(offset), mid.Sub(offset)
	return [4]float64{p1.X(), p1.Y(), p2.X(), p2.Y()}, true
}
