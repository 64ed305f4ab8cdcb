package datasync

import "errors"

var (
	ErrChangeFailed = errors.New("data change failed")
	ErrStreamClosed = errors.New("stream closed")
)
