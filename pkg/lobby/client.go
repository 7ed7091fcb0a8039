package lobby

import (
	"context"
	"errors"
	"fmt"

	"github.com/cbodonnell/lobbysync/pkg/events"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	"github.com/cbodonnell/lobbysync/pkg/queue"
)

// Sender delivers a client message to the host.
type Sender interface {
	SendMessage(msg *messages.Message) error
}

// HostLost is enqueued by the client transport when the host connection ends.
type HostLost struct {
	Err error
}

// ClientRoom is a non-host peer's view of a room. Its mirror only changes
// through messages replicated by the host.
type ClientRoom struct {
	clientID   ClientID
	mirror     *Mirror
	sender     Sender
	queue      queue.Queue
	roomEvents *events.Bus[RoomEvent]
}

// NewClientRoomOptions contains options for creating a new ClientRoom.
type NewClientRoomOptions struct {
	// ClientID is the id assigned by the host at login.
	ClientID ClientID
	Sender   Sender
	// Queue carries messages received from the host and HostLost.
	Queue queue.Queue
}

func NewClientRoom(opts NewClientRoomOptions) *ClientRoom {
	return &ClientRoom{
		clientID:   opts.ClientID,
		mirror:     NewMirror(),
		sender:     opts.Sender,
		queue:      opts.Queue,
		roomEvents: events.NewBus[RoomEvent](),
	}
}

// Start applies host messages until ctx is done or the host is lost, in
// which case it returns an error wrapping ErrHostLost. The mirror is
// cleared on return.
func (r *ClientRoom) Start(ctx context.Context) error {
	defer r.mirror.Clear()
	for {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read client queue: %v", err)
		}
		switch item := item.(type) {
		case *messages.Message:
			r.handleMessage(item)
		case *HostLost:
			log.Warn("Lost connection to host: %v", item.Err)
			r.roomEvents.Publish(RoomEvent{Type: RoomEventHostLost, Err: item.Err})
			if item.Err != nil {
				return fmt.Errorf("%w: %v", ErrHostLost, item.Err)
			}
			return ErrHostLost
		default:
			log.Warn("Unknown client queue item: %T", item)
		}
	}
}

func (r *ClientRoom) handleMessage(msg *messages.Message) {
	if msg.ClientID != uint32(HostClientID) {
		log.Warn("Ignoring %s not sent by the host", msg.Type)
		return
	}

	applied, err := r.mirror.Apply(msg)
	if err != nil {
		log.Error("Failed to apply %s: %v", msg.Type, err)
		return
	}
	if applied {
		r.roomEvents.Publish(RoomEvent{Type: RoomEventRosterChanged, Roster: r.mirror.Snapshot()})
		return
	}

	switch msg.Type {
	case messages.MessageTypeServerGameStart:
		payload, err := messages.DecodePayload[messages.ServerGameStart](msg)
		if err != nil {
			log.Error("Failed to decode game start: %v", err)
			return
		}
		log.Info("Host started session %s", payload.SessionID)
		r.roomEvents.Publish(RoomEvent{
			Type:      RoomEventGameStarting,
			Roster:    r.mirror.Snapshot(),
			GameStart: &GameStart{SessionID: payload.SessionID, StartsAt: payload.StartsAt},
		})
	default:
		log.Warn("Unexpected message type %s from host", msg.Type)
	}
}

// RequestReady asks the host to mark this client ready. The mirror is only
// updated once the host replicates the change.
func (r *ClientRoom) RequestReady(_ context.Context) error {
	msg, err := RequestReadyMessage(r.clientID)
	if err != nil {
		return fmt.Errorf("failed to build ready request: %v", err)
	}
	if err := r.sender.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send ready request: %v", err)
	}
	return nil
}

func (r *ClientRoom) ClientID() ClientID {
	return r.clientID
}

func (r *ClientRoom) Mirror() *Mirror {
	return r.mirror
}

func (r *ClientRoom) Snapshot() []Entry {
	return r.mirror.Snapshot()
}

func (r *ClientRoom) AllReady() bool {
	return r.mirror.AllReady()
}

func (r *ClientRoom) Subscribe(handler events.Handler[RoomEvent]) (unsubscribe func()) {
	return r.roomEvents.Subscribe(handler)
}

// IsHostLost reports whether err was returned because the host went away.
func IsHostLost(err error) bool {
	return errors.Is(err, ErrHostLost)
}
