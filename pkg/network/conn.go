package network

import (
	"context"

	"github.com/cbodonnell/lobbysync/pkg/messages"
)

// Conn is a reliable, ordered message connection to one peer.
// WriteMessage may be called concurrently; ReadMessage may not.
type Conn interface {
	ReadMessage(ctx context.Context) (*messages.Message, error)
	WriteMessage(ctx context.Context, msg *messages.Message) error
	Close() error
	RemoteAddr() string
}

// ConnectionHandler serves one accepted connection until it ends.
type ConnectionHandler func(ctx context.Context, conn Conn)

// ErrConnectionClosed is returned when the peer closes the connection
type ErrConnectionClosed struct{}

func (e *ErrConnectionClosed) Error() string {
	return "connection closed"
}

func IsConnectionClosed(err error) bool {
	_, ok := err.(*ErrConnectionClosed)
	return ok
}
