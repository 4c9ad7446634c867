package ecs

import "errors"

var (
	ErrInvalidType             = errors.New("ecs: invalid type")
	ErrInvalidComponent        = errors.New("ecs: invalid component")
	ErrEmptySchema             = errors.New("ecs: component declares no properties")
	ErrUnknownProp             = errors.New("ecs: unknown property")
	ErrInvalidValue            = errors.New("ecs: invalid property value")
	ErrConflictingRegistration = errors.New("ecs: conflicting component registration")
	ErrUnregisteredComponent   = errors.New("ecs: component is not registered")
	ErrDuplicateComponent      = errors.New("ecs: entity already has component")
	ErrInvalidEntity           = errors.New("ecs: invalid entity")
	ErrDetachedEntity          = errors.New("ecs: entity does not belong to a world")
	ErrEntityReleased          = errors.New("ecs: entity was released")
	ErrSystemRegistered        = errors.New("ecs: system already registered")
	ErrInvalidSystem           = errors.New("ecs: invalid system")
)
