package remote

import "errors"

var (
	ErrRemoteDelivery = errors.New("remote delivery failed")
	ErrNoBasePath     = errors.New("remote node has no base path")
)
