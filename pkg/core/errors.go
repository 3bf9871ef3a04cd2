package core

import "errors"

// Common errors.
var (
	ErrNotFound             = errors.New("object not found")
	ErrUnsupportedObject    = errors.New("unsupported object")
	ErrBadMethodCall        = errors.New("bad method call")
	ErrUnknownOption        = errors.New("unknown configuration")
	ErrInvalidOption        = errors.New("invalid configuration")
	ErrDuplicateManager     = errors.New("manager builder is already registered")
	ErrUnnamedBuilder       = errors.New("only named manager builders allowed")
	ErrManagerNotRegistered = errors.New("is not a registered manager")
	ErrNoMetadataMapping    = errors.New("no metadata mapping defined")
	ErrTypeRegistered       = errors.New("type already registered")
	ErrMissingIdentifier    = errors.New("object has no identifier")
)
