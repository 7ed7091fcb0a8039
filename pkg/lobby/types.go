package lobby

import (
	"errors"
	"fmt"
)

// ClientID is the host-assigned id of a connected peer.
// It is stable for the lifetime of a connection and reused only after
// the host has processed the disconnect.
type ClientID uint32

// HostClientID is the id the host holds in its own registry.
const HostClientID ClientID = 0

func (id ClientID) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// Entry is one row of the ready-state registry.
type Entry struct {
	ClientID ClientID `json:"clientId"`
	Ready    bool     `json:"ready"`
}

// ErrNotAllReady is returned when a game start is requested before every
// registry entry is ready.
var ErrNotAllReady = errors.New("not all players are ready")

// ErrHostStopped is returned by Host.StartGame once the host loop has exited.
var ErrHostStopped = errors.New("host stopped")

// ErrHostLost is returned by a client room when the connection to the host ends.
var ErrHostLost = errors.New("lost connection to host")

// RoomEventType identifies what changed in a room.
type RoomEventType int

const (
	// RoomEventRosterChanged carries a fresh registry snapshot.
	RoomEventRosterChanged RoomEventType = iota
	// RoomEventGameStarting is sent once the host has broadcast the game start.
	RoomEventGameStarting
	// RoomEventHostLost is sent by client rooms when the host goes away.
	RoomEventHostLost
)

func (t RoomEventType) String() string {
	switch t {
	case RoomEventRosterChanged:
		return "RosterChanged"
	case RoomEventGameStarting:
		return "GameStarting"
	case RoomEventHostLost:
		return "HostLost"
	default:
		return "Unknown"
	}
}

// RoomEvent is published by hosts and client rooms.
type RoomEvent struct {
	Type      RoomEventType
	Roster    []Entry
	GameStart *GameStart
	Err       error
}

// GameStart describes a game start broadcast by the host.
type GameStart struct {
	SessionID string
	StartsAt  int64
}
