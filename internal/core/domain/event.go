package domain

import "encoding/json"

// Inbound message types.
const (
	MessageRegister         = "register"
	MessageOffer            = "offer"
	MessageAnswer           = "answer"
	MessageICECandidate     = "ice-candidate"
	MessageConnectionStatus = "connection-status"
	MessageHeartbeat        = "heartbeat"
)

// Outbound event types.
const (
	EventConnected            = "connected"
	EventUsersUpdated         = "users_updated"
	EventUserDisconnected     = "user-disconnected"
	EventPeerConnectionStatus = "peer-connection-status"
)

// Message is an inbound client message after envelope decoding.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound message addressed to one or more connections.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// SignalKind describes one of the relayed negotiation message types and the
// payload field that carries its opaque body.
type SignalKind struct {
	Type  string
	Field string
}

var (
	SignalOffer     = SignalKind{Type: MessageOffer, Field: "offer"}
	SignalAnswer    = SignalKind{Type: MessageAnswer, Field: "answer"}
	SignalCandidate = SignalKind{Type: MessageICECandidate, Field: "candidate"}
)

// SignalKindFor returns the kind for a relayed message type.
func SignalKindFor(messageType string) (SignalKind, bool) {
	switch messageType {
	case MessageOffer:
		return SignalOffer, true
	case MessageAnswer:
		return SignalAnswer, true
	case MessageICECandidate:
		return SignalCandidate, true
	}
	return SignalKind{}, false
}

// ConnectedPayload tells a new client its own connection id.
type ConnectedPayload struct {
	ConnectionID ConnectionID `json:"connectionId"`
}

// PeerStatusPayload is the body of a peer-connection-status event.
type PeerStatusPayload struct {
	From     ConnectionID `json:"from"`
	Username string       `json:"username,omitempty"`
	Status   string       `json:"status"`
}
