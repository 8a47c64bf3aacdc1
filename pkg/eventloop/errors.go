package eventloop

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("event loop already started")
	ErrStopped        = errors.New("event loop stopped")
)

// BindError is returned by Start when the listening socket cannot be
// created, bound or put into listening state.
type BindError struct {
	Address string
	Port    int
	Err     error
}

func (e *BindError) Error() string {
	addr := e.Address
	if addr == "" {
		addr = "*"
	}
	return fmt.Sprintf("could not listen on %s:%d: %v", addr, e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
