package mesh

import "errors"

var (
	ErrInvalidNode      = errors.New("invalid mesh node")
	ErrModuleNotFound   = errors.New("module not found")
	ErrModuleLoad       = errors.New("module load failed")
	ErrDuplicateModule  = errors.New("module already provided")
	ErrDuplicateFactory = errors.New("hub factory already registered")
	ErrFactoryNotFound  = errors.New("no hub factory for address kind")
)
