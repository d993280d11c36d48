package model

import "time"

// OnlineWindow is how recent a heartbeat must be for a server to be shown
// as online. Display only: it never affects queue visibility.
const OnlineWindow = 2 * time.Minute

// Server is a registered game server. APIKey is the shared-secret credential
// the server's plugin authenticates protocol calls with.
type Server struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Region         string     `json:"region,omitempty"`
	Address        string     `json:"address,omitempty"` // ip:port shown on the storefront
	APIKey         string     `json:"-"`
	CurrentPlayers int        `json:"current_players"`
	MaxPlayers     int        `json:"max_players"`
	MapName        string     `json:"map_name,omitempty"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Online reports whether the server heartbeated within OnlineWindow of now.
func (s *Server) Online(now time.Time) bool {
	return s.LastSeenAt != nil && now.Sub(*s.LastSeenAt) <= OnlineWindow
}

// FillPercent returns current player load as a 0-100 percentage.
func (s *Server) FillPercent() int {
	if s.MaxPlayers <= 0 {
		return 0
	}
	return s.CurrentPlayers * 100 / s.MaxPlayers
}
