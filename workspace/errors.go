package workspace

import "errors"

var (
	ErrInvalidReference = errors.New("invalid workspace reference")
	ErrPatchConflict    = errors.New("patch conflict")
	ErrOutsideReference = errors.New("patch outside reference")
)
