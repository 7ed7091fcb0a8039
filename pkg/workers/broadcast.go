package workers

import (
	"context"
	"errors"

	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
)

// BroadcastMessageChanSize is the buffer between the host loop and the broadcast worker.
const BroadcastMessageChanSize = 1024

// ErrBroadcasterClosed is returned once the broadcaster's context is done.
var ErrBroadcasterClosed = errors.New("broadcaster closed")

// BroadcastMessage is one outbound host message and its recipients.
type BroadcastMessage struct {
	ClientIDs []lobby.ClientID
	Message   *messages.Message
}

// MessageSender writes messages to connected clients.
type MessageSender interface {
	SendReliableMessageToClient(ctx context.Context, clientID lobby.ClientID, msg *messages.Message) error
	SendReliableMessageToClients(ctx context.Context, clientIDs []lobby.ClientID, msg *messages.Message)
}

// Broadcaster implements lobby.Broadcaster by handing messages to the
// BroadcastMessageWorker over a channel.
type Broadcaster struct {
	ctx                  context.Context
	broadcastMessageChan chan<- BroadcastMessage
}

var _ lobby.Broadcaster = &Broadcaster{}

func NewBroadcaster(ctx context.Context, broadcastMessageChan chan<- BroadcastMessage) *Broadcaster {
	return &Broadcaster{
		ctx:                  ctx,
		broadcastMessageChan: broadcastMessageChan,
	}
}

func (b *Broadcaster) SendToClient(id lobby.ClientID, msg *messages.Message) error {
	return b.send(BroadcastMessage{ClientIDs: []lobby.ClientID{id}, Message: msg})
}

func (b *Broadcaster) SendToClients(ids []lobby.ClientID, msg *messages.Message) error {
	return b.send(BroadcastMessage{ClientIDs: ids, Message: msg})
}

func (b *Broadcaster) send(msg BroadcastMessage) error {
	select {
	case b.broadcastMessageChan <- msg:
		return nil
	case <-b.ctx.Done():
		return ErrBroadcasterClosed
	}
}

// BroadcastMessageWorker is the only writer of host messages, so every
// client observes them in the order the host produced them.
type BroadcastMessageWorker struct {
	sender               MessageSender
	broadcastMessageChan <-chan BroadcastMessage
}

type NewBroadcastMessageWorkerOptions struct {
	Sender               MessageSender
	BroadcastMessageChan <-chan BroadcastMessage
}

func NewBroadcastMessageWorker(opts NewBroadcastMessageWorkerOptions) *BroadcastMessageWorker {
	return &BroadcastMessageWorker{
		sender:               opts.Sender,
		broadcastMessageChan: opts.BroadcastMessageChan,
	}
}

func (w *BroadcastMessageWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.broadcastMessageChan:
			w.handleBroadcastMessage(ctx, msg)
		}
	}
}

func (w *BroadcastMessageWorker) handleBroadcastMessage(ctx context.Context, msg BroadcastMessage) {
	if msg.Message == nil {
		log.Warn("Ignoring empty broadcast message")
		return
	}
	log.Trace("Broadcasting %s to %d clients", msg.Message.Type, len(msg.ClientIDs))

	if len(msg.ClientIDs) == 1 {
		if err := w.sender.SendReliableMessageToClient(ctx, msg.ClientIDs[0], msg.Message); err != nil {
			log.Error("Failed to send %s: %v", msg.Message.Type, err)
		}
		return
	}
	w.sender.SendReliableMessageToClients(ctx, msg.ClientIDs, msg.Message)
}
