package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// DifficultyKey is the session property holding the difficulty index.
	DifficultyKey = "d"
	// JoinKey is the session property holding the host's transport address.
	JoinKey = "j"
	// DefaultMaxPlayers is the capacity used when a session does not set one.
	DefaultMaxPlayers = 5
	// MaxNameLength bounds session names.
	MaxNameLength = 32
)

// Difficulties are the selectable difficulty names, indexed by the DifficultyKey property.
var Difficulties = []string{"Easy"}

// Directory is the session directory service.
type Directory interface {
	// ListSessions returns the sessions that can currently be joined.
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	// Create creates a session hosted by the caller.
	Create(ctx context.Context, opts CreateOptions) (*Allocation, error)
	Join(ctx context.Context, sessionID string) (*Allocation, error)
	// Lock stops further joins. Only the host may lock a session.
	Lock(ctx context.Context, sessionID string) error
	// Leave releases the caller's current allocation, if any.
	Leave(ctx context.Context) error
}

// SessionSummary describes a listed session.
type SessionSummary struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	HostID       string            `json:"hostId"`
	CurrentCount int               `json:"currentCount"`
	MaxCount     int               `json:"maxCount"`
	Locked       bool              `json:"locked"`
	Properties   map[string]string `json:"properties"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Difficulty returns the difficulty name, or "" if the property is missing or out of range.
func (s SessionSummary) Difficulty() string {
	i, err := strconv.Atoi(s.Properties[DifficultyKey])
	if err != nil || i < 0 || i >= len(Difficulties) {
		return ""
	}
	return Difficulties[i]
}

// Full reports whether the session has no free seats.
func (s SessionSummary) Full() bool {
	return s.CurrentCount >= s.MaxCount
}

// Allocation is a seat in a session.
type Allocation struct {
	SessionID   string `json:"sessionId"`
	HostID      string `json:"hostId"`
	PlayerID    string `json:"playerId"`
	JoinAddress string `json:"joinAddress"`
}

// IsHost reports whether the allocation belongs to the session's host.
func (a *Allocation) IsHost() bool {
	return a.HostID == a.PlayerID
}

// CreateOptions describes a session to create.
type CreateOptions struct {
	Name       string
	MaxPlayers int
	// Difficulty is an index into Difficulties.
	Difficulty int
	// JoinAddress is where clients reach the host transport.
	JoinAddress string
}

// CreateRequest is the wire form of a create call.
type CreateRequest struct {
	Name       string            `json:"name"`
	MaxPlayers int               `json:"maxPlayers"`
	Properties map[string]string `json:"properties"`
}

// Request validates opts and converts them to a CreateRequest.
func (o CreateOptions) Request() (*CreateRequest, error) {
	if o.Name == "" || len(o.Name) > MaxNameLength {
		return nil, fmt.Errorf("session name must be between 1 and %d characters", MaxNameLength)
	}
	if o.Difficulty < 0 || o.Difficulty >= len(Difficulties) {
		return nil, fmt.Errorf("unknown difficulty %d", o.Difficulty)
	}
	if o.JoinAddress == "" {
		return nil, fmt.Errorf("join address is required")
	}
	maxPlayers := o.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	return &CreateRequest{
		Name:       o.Name,
		MaxPlayers: maxPlayers,
		Properties: map[string]string{
			DifficultyKey: strconv.Itoa(o.Difficulty),
			JoinKey:       o.JoinAddress,
		},
	}, nil
}

// ErrNoAllocation is returned by Leave when the caller holds no allocation.
var ErrNoAllocation = errors.New("no current allocation")

// Error is a failed directory call.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("directory error %d: %s", e.StatusCode, e.Message)
}
