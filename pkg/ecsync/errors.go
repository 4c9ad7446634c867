package ecsync

import (
	"errors"

	"github.com/zeusync/ecsync/pkg/ecs"
)

var (
	ErrNotComponent      = errors.New("ecsync: not a replicated component")
	ErrUnresolvableField = errors.New("ecsync: unresolvable field type")

	ErrConflictingRegistration = ecs.ErrConflictingRegistration
)
