package typereg

import "errors"

// Sentinel errors for the type registry.
var (
	ErrUnknownType  = errors.New("unknown type")
	ErrNameConflict = errors.New("type name already registered")
	ErrEmptyName    = errors.New("type name is empty")
)
