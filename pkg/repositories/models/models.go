package models

import "time"

type User struct {
	ID string `json:"id"`
}

// Session is a directory entry. PlayerCount includes the host.
type Session struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	HostID      string            `json:"host_id"`
	MaxPlayers  int               `json:"max_players"`
	PlayerCount int               `json:"player_count"`
	Locked      bool              `json:"locked"`
	Properties  map[string]string `json:"properties"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Full reports whether the session has no free seats.
func (s *Session) Full() bool {
	return s.PlayerCount >= s.MaxPlayers
}
