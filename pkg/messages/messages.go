package messages

import "encoding/json"

const (
	// MessageBufferSize is the largest frame accepted from a peer
	MessageBufferSize = 64 * 1024
)

// MessageType identifies the payload carried by a Message.
type MessageType byte

// Message types. Client messages flow client -> host, server messages host -> client.
const (
	MessageTypeClientLogin MessageType = iota + 1
	MessageTypeServerLoginSuccess
	MessageTypeServerLoginFailure
	MessageTypeServerUpsertEntry
	MessageTypeServerRemoveEntry
	MessageTypeClientRequestReady
	MessageTypeServerGameStart
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeClientLogin:
		return "ClientLogin"
	case MessageTypeServerLoginSuccess:
		return "ServerLoginSuccess"
	case MessageTypeServerLoginFailure:
		return "ServerLoginFailure"
	case MessageTypeServerUpsertEntry:
		return "ServerUpsertEntry"
	case MessageTypeServerRemoveEntry:
		return "ServerRemoveEntry"
	case MessageTypeClientRequestReady:
		return "ClientRequestReady"
	case MessageTypeServerGameStart:
		return "ServerGameStart"
	default:
		return "Unknown"
	}
}

// Message represents a generic message for serialization/deserialization.
// ClientID 0 means the message is from the host.
type Message struct {
	ClientID uint32          `json:"clientID"`
	Type     MessageType     `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// NewMessage marshals payload as JSON and wraps it in a Message.
func NewMessage(clientID uint32, t MessageType, payload interface{}) (*Message, error) {
	var b []byte
	if payload != nil {
		var err error
		b, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &Message{
		ClientID: clientID,
		Type:     t,
		Payload:  b,
	}, nil
}

// DecodePayload unmarshals the JSON payload of m into a T.
func DecodePayload[T any](m *Message) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClientLogin is the first message a client sends on a new connection.
type ClientLogin struct {
	Token string `json:"token"`
}

// Position is the spawn position handed out by connection approval.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type ServerLoginSuccess struct {
	ClientID uint32   `json:"clientID"`
	Spawn    Position `json:"spawn"`
}

type ServerLoginFailure struct {
	Reason string `json:"reason"`
}

// ServerUpsertEntry inserts or overwrites one registry entry on a client.
type ServerUpsertEntry struct {
	ClientID uint32 `json:"clientID"`
	Ready    bool   `json:"ready"`
}

// ServerRemoveEntry deletes one registry entry on a client.
type ServerRemoveEntry struct {
	ClientID uint32 `json:"clientID"`
}

// ClientRequestReady asks the host to mark ClientID as ready.
type ClientRequestReady struct {
	ClientID uint32 `json:"clientID"`
}

type ServerGameStart struct {
	SessionID string `json:"sessionID"`
	StartsAt  int64  `json:"startsAt"`
}
