package session

import (
	"errors"
	"fmt"

	"github.com/cbodonnell/lobbysync/pkg/lobby"
)

type State int

const (
	StateBrowsing State = iota
	StateCreating
	StateJoining
	StateInRoom
	StateStarting
	StateInGame
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateBrowsing:
		return "Browsing"
	case StateCreating:
		return "Creating"
	case StateJoining:
		return "Joining"
	case StateInRoom:
		return "InRoom"
	case StateStarting:
		return "Starting"
	case StateInGame:
		return "InGame"
	case StateLeft:
		return "Left"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateChange is published on every lifecycle transition.
type StateChange struct {
	From State
	To   State
	// GameStart is set on transitions into Starting and InGame.
	GameStart *lobby.GameStart
}

var (
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrNotHost is returned when a host-only operation is called by a client.
	ErrNotHost = errors.New("only the host can do this")
	// ErrNotAllReady is returned by Start while some player is not ready.
	ErrNotAllReady = errors.New("not all players are ready")
	// ErrCancelled is returned by Create, Join and Start when Leave interrupted them.
	ErrCancelled = errors.New("cancelled by leave")
)

// DirectoryError is a failed call to the session directory.
type DirectoryError struct {
	Op  string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory %s failed: %v", e.Op, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

func IsDirectoryError(err error) bool {
	var de *DirectoryError
	return errors.As(err, &de)
}
