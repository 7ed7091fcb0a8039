package lobby

import (
	"fmt"

	"github.com/cbodonnell/lobbysync/pkg/messages"
)

// UpsertMessage builds the host message that replicates e.
func UpsertMessage(e Entry) (*messages.Message, error) {
	return messages.NewMessage(uint32(HostClientID), messages.MessageTypeServerUpsertEntry, messages.ServerUpsertEntry{
		ClientID: uint32(e.ClientID),
		Ready:    e.Ready,
	})
}

// RemoveMessage builds the host message that replicates the removal of id.
func RemoveMessage(id ClientID) (*messages.Message, error) {
	return messages.NewMessage(uint32(HostClientID), messages.MessageTypeServerRemoveEntry, messages.ServerRemoveEntry{
		ClientID: uint32(id),
	})
}

// RequestReadyMessage builds the client message asking the host to mark id ready.
func RequestReadyMessage(id ClientID) (*messages.Message, error) {
	return messages.NewMessage(uint32(id), messages.MessageTypeClientRequestReady, messages.ClientRequestReady{
		ClientID: uint32(id),
	})
}

// GameStartMessage builds the host message announcing the game start.
func GameStartMessage(start GameStart) (*messages.Message, error) {
	return messages.NewMessage(uint32(HostClientID), messages.MessageTypeServerGameStart, messages.ServerGameStart{
		SessionID: start.SessionID,
		StartsAt:  start.StartsAt,
	})
}

// ResyncMessages returns one upsert per entry of snapshot, in snapshot order.
func ResyncMessages(snapshot []Entry) ([]*messages.Message, error) {
	out := make([]*messages.Message, 0, len(snapshot))
	for _, e := range snapshot {
		msg, err := UpsertMessage(e)
		if err != nil {
			return nil, fmt.Errorf("failed to build upsert for client %d: %v", e.ClientID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
