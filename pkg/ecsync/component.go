package ecsync

import (
	"fmt"

	"github.com/zeusync/ecsync/pkg/ecs"
	"github.com/zeusync/ecsync/pkg/schema"
)

// Replicated is what a component becomes once it carries both halves: it
// is a record the schema layer can encode and a component the engine can
// pool and query.
type Replicated interface {
	schema.Record
	ecs.Component
}

// Component is embedded by replicated components:
//
//	type Position struct {
//		ecsync.Component
//		X float64 `schema:"number"`
//		Y float64 `schema:"number"`
//	}
//
// Methods declared on the outer struct override the ones below, and the
// engine always dispatches through the outer value.
type Component struct {
	schema.Schema
	ecs.BaseComponent
}

// Copy overwrites the declared fields with src's and flags the record for
// the next patch.
func (c *Component) Copy(src ecs.Component) ecs.Component {
	out := c.BaseComponent.Copy(src)
	c.MarkChanged()
	return out
}

// Reset restores the defaults and drops the replication identity, so a
// pooled instance is sent as new when it is attached again.
func (c *Component) Reset() {
	c.BaseComponent.Reset()
	c.ClearRefID()
}

// TagComponent is the replicated form of ecs.TagComponent.
type TagComponent struct {
	schema.Schema
	ecs.TagComponent
}

func (c *TagComponent) Copy(src ecs.Component) ecs.Component {
	out := c.TagComponent.Copy(src)
	c.MarkChanged()
	return out
}

func (c *TagComponent) Reset() {
	c.TagComponent.Reset()
	c.ClearRefID()
}

// SystemStateComponent is the replicated form of ecs.SystemStateComponent.
type SystemStateComponent struct {
	schema.Schema
	ecs.SystemStateComponent
}

func (c *SystemStateComponent) Copy(src ecs.Component) ecs.Component {
	out := c.SystemStateComponent.Copy(src)
	c.MarkChanged()
	return out
}

func (c *SystemStateComponent) Reset() {
	c.SystemStateComponent.Reset()
	c.ClearRefID()
}

func checkCapabilities(proto ecs.Component) (Replicated, error) {
	r, ok := proto.(Replicated)
	if !ok || isNilRecord(r) {
		return nil, fmt.Errorf("%w: %T does not embed ecsync.Component", ErrNotComponent, proto)
	}
	return r, nil
}
