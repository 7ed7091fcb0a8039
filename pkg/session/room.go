package session

import (
	"context"

	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/events"
	"github.com/cbodonnell/lobbysync/pkg/lobby"
)

// Room is a joined lobby, either hosted locally or mirrored from a host.
type Room interface {
	ClientID() lobby.ClientID
	IsHost() bool
	Snapshot() []lobby.Entry
	AllReady() bool
	// RequestReady asks the host to mark the local player ready.
	RequestReady(ctx context.Context) error
	// StartGame broadcasts the game start. Only host rooms support it.
	StartGame(ctx context.Context, start lobby.GameStart) error
	Subscribe(handler events.Handler[lobby.RoomEvent]) (unsubscribe func())
	// Activate starts processing. Events are only published after Activate.
	Activate()
	// Close shuts the room down and waits for its goroutines.
	Close() error
}

// Transport opens rooms for directory allocations.
type Transport interface {
	// Host binds the host listeners for alloc. The returned room is not yet active.
	Host(ctx context.Context, alloc *directory.Allocation) (Room, error)
	// Connect dials alloc's join address and logs in.
	Connect(ctx context.Context, alloc *directory.Allocation) (Room, error)
}
