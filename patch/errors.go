package patch

import "errors"

var (
	ErrInvalidPointer = errors.New("invalid json pointer")
	ErrPathNotFound   = errors.New("path not found")
	ErrApply          = errors.New("patch apply failed")
)
