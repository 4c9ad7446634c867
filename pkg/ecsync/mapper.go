package ecsync

import (
	"sort"

	"github.com/zeusync/ecsync/pkg/ecs"
)

var primitiveTypes = map[string]*ecs.Type{
	"string":  ecs.Types.String,
	"boolean": ecs.Types.Boolean,
	"number":  ecs.Types.Number,
	"int8":    ecs.Types.Number,
	"uint8":   ecs.Types.Number,
	"int16":   ecs.Types.Number,
	"uint16":  ecs.Types.Number,
	"int32":   ecs.Types.Number,
	"uint32":  ecs.Types.Number,
	"int64":   ecs.Types.Number,
	"uint64":  ecs.Types.Number,
	"float32": ecs.Types.Number,
	"float64": ecs.Types.Number,
}

// MapType returns the engine type for a primitive field tag.
func MapType(tag string) (*ecs.Type, bool) {
	t, ok := primitiveTypes[tag]
	return t, ok
}

// PrimitiveTags lists the tags MapType resolves, sorted.
func PrimitiveTags() []string {
	tags := make([]string, 0, len(primitiveTypes))
	for tag := range primitiveTypes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
