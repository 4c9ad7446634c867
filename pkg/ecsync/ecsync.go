// Package ecsync bridges the ecs engine and the schema replication layer.
//
// A replicated component is a struct embedding Component (or TagComponent,
// SystemStateComponent) whose fields carry `schema` tags. Registering it
// with a World derives the engine property schema from the tags, so the
// same struct is pooled and queried by the engine and encoded by the
// schema layer. Entities are records too: their id and their components
// keyed by type name live in the replicated state, and the world's entity
// store is a replicated list.
//
// On the authority side systems mutate components as usual and an Encoder
// produces patches of the state holding the list. On the receiving side a
// Decoder applies the patches and EnableAutoDecoding turns the decoded
// additions and removals into engine entities and components, so queries
// and systems run unchanged against the mirrored state.
package ecsync

import "github.com/zeusync/ecsync/pkg/ecs"

type (
	System      = ecs.System
	BaseSystem  = ecs.BaseSystem
	QueryConfig = ecs.QueryConfig
	Listen      = ecs.Listen
	Values      = ecs.Values
)
