package network

import "fmt"

// ErrConnectionClosedByServer is returned when the host closes the connection
type ErrConnectionClosedByServer struct{}

func (e *ErrConnectionClosedByServer) Error() string {
	return "connection closed by server"
}

// ErrLoginFailure is returned when the host refuses the login
type ErrLoginFailure struct {
	Reason string
}

func (e *ErrLoginFailure) Error() string {
	return fmt.Sprintf("server login failure: %s", e.Reason)
}

func IsLoginFailure(err error) bool {
	_, ok := err.(*ErrLoginFailure)
	return ok
}
