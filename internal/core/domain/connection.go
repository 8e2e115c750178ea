package domain

import "time"

type ConnectionID string

// Connection is one live transport link. ID, RemoteAddress and ConnectedAt
// never change after connect.
type Connection struct {
	ID            ConnectionID
	RemoteAddress string
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	Stats SignalingStats
}

// HasHeartbeat reports whether the connection has sent at least one heartbeat.
func (c *Connection) HasHeartbeat() bool {
	return !c.LastHeartbeat.IsZero()
}

// SignalingStats counts relayed negotiation messages sent by a connection.
type SignalingStats struct {
	OffersSent     int          `json:"offers_sent"`
	AnswersSent    int          `json:"answers_sent"`
	CandidatesSent int          `json:"candidates_sent"`
	LastTarget     ConnectionID `json:"last_target,omitempty"`
	LastSignalAt   time.Time    `json:"last_signal_at,omitempty"`
}

// Identity is the display name a client attached to its connection.
type Identity struct {
	ConnectionID ConnectionID `json:"connectionId"`
	DisplayName  string       `json:"displayName"`
	RegisteredAt time.Time    `json:"-"`
}

// ConnectionInfo is a read-only view of a connection used by the debug API.
type ConnectionInfo struct {
	ID            ConnectionID   `json:"connection_id"`
	DisplayName   string         `json:"display_name,omitempty"`
	Registered    bool           `json:"registered"`
	RemoteAddress string         `json:"remote_address"`
	ConnectedAt   time.Time      `json:"connected_at"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
	Stats         SignalingStats `json:"stats"`
}
