package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/events"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	"github.com/cbodonnell/lobbysync/pkg/queue"
)

// Broadcaster delivers host messages to connected clients.
// Implementations must deliver messages to each client in call order.
type Broadcaster interface {
	SendToClient(id ClientID, msg *messages.Message) error
	SendToClients(ids []ClientID, msg *messages.Message) error
}

// ClientConnected is enqueued by the transport once a client has logged in
// and been assigned id.
type ClientConnected struct {
	ClientID ClientID
}

// ClientDisconnected is enqueued by the transport when a client connection ends.
type ClientDisconnected struct {
	ClientID ClientID
}

type requestReadyCommand struct{}

type startGameCommand struct {
	start GameStart
	reply chan error
}

// Host owns the ready-state registry. Connection events, client messages and
// local commands all pass through one queue and are applied by the loop in
// Start, in arrival order.
type Host struct {
	registry     *Registry
	queue        queue.Queue
	broadcaster  Broadcaster
	releaseID    func(id ClientID)
	tickInterval time.Duration
	roomEvents   *events.Bus[RoomEvent]
	done         chan struct{}
}

// NewHostOptions contains options for creating a new Host.
type NewHostOptions struct {
	Queue       queue.Queue
	Broadcaster Broadcaster
	// ReleaseID hands a client id back to the transport after its
	// disconnect has been processed.
	ReleaseID    func(id ClientID)
	TickInterval time.Duration
}

func NewHost(opts NewHostOptions) *Host {
	releaseID := opts.ReleaseID
	if releaseID == nil {
		releaseID = func(ClientID) {}
	}
	tickInterval := opts.TickInterval
	if tickInterval <= 0 {
		tickInterval = 20 * time.Millisecond
	}
	return &Host{
		registry:     NewRegistry(),
		queue:        opts.Queue,
		broadcaster:  opts.Broadcaster,
		releaseID:    releaseID,
		tickInterval: tickInterval,
		roomEvents:   events.NewBus[RoomEvent](),
		done:         make(chan struct{}),
	}
}

// Activate inserts the host's own entry. It must run before the transport
// starts accepting clients.
func (h *Host) Activate() {
	h.registry.Admit(HostClientID)
	h.publishRoster()
}

// Start runs the host loop until ctx is done. The registry is discarded
// when the loop exits. Start must be called at most once.
func (h *Host) Start(ctx context.Context) error {
	defer close(h.done)
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()
	defer h.registry.Reset()

	for {
		select {
		case <-ctx.Done():
			h.failPending(ctx.Err())
			return nil
		case <-ticker.C:
			if err := h.tick(); err != nil {
				log.Error("Failed to run host tick: %v", err)
			}
		}
	}
}

func (h *Host) tick() error {
	pending, err := h.queue.ReadAllMessages()
	if err != nil {
		return fmt.Errorf("failed to read host queue: %v", err)
	}
	for _, item := range pending {
		h.process(item)
	}
	return nil
}

func (h *Host) process(item interface{}) {
	switch item := item.(type) {
	case *ClientConnected:
		h.handleClientConnected(item.ClientID)
	case *ClientDisconnected:
		h.handleClientDisconnected(item.ClientID)
	case *messages.Message:
		h.handleClientMessage(item)
	case *requestReadyCommand:
		h.handleRequestReady(HostClientID)
	case *startGameCommand:
		item.reply <- h.handleStartGame(item.start)
	default:
		log.Warn("Unknown host queue item: %T", item)
	}
}

func (h *Host) handleClientConnected(id ClientID) {
	snapshot := h.registry.Admit(id)
	log.Info("Client %d admitted (%d in room)", id, len(snapshot))

	resync, err := ResyncMessages(snapshot)
	if err != nil {
		log.Error("Failed to build resync for client %d: %v", id, err)
		return
	}
	for _, msg := range resync {
		if err := h.broadcaster.SendToClient(id, msg); err != nil {
			log.Error("Failed to send resync to client %d: %v", id, err)
			break
		}
	}

	ready, _ := h.registry.Ready(id)
	h.broadcastUpsert(Entry{ClientID: id, Ready: ready})
	h.publishRoster()
}

func (h *Host) handleClientDisconnected(id ClientID) {
	defer h.releaseID(id)
	if !h.registry.Remove(id) {
		log.Debug("Client %d disconnected without a registry entry", id)
		return
	}
	log.Info("Client %d removed (%d in room)", id, h.registry.Len())

	msg, err := RemoveMessage(id)
	if err != nil {
		log.Error("Failed to build remove entry for client %d: %v", id, err)
		return
	}
	if err := h.broadcast(msg); err != nil {
		log.Error("Failed to broadcast remove entry for client %d: %v", id, err)
	}
	h.publishRoster()
}

func (h *Host) handleClientMessage(msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypeClientRequestReady:
		payload, err := messages.DecodePayload[messages.ClientRequestReady](msg)
		if err != nil {
			log.Warn("Failed to decode ready request from client %d: %v", msg.ClientID, err)
			return
		}
		if payload.ClientID != msg.ClientID {
			log.Debug("Dropping ready request for client %d sent by client %d", payload.ClientID, msg.ClientID)
			return
		}
		h.handleRequestReady(ClientID(msg.ClientID))
	default:
		log.Warn("Unexpected message type %s from client %d", msg.Type, msg.ClientID)
	}
}

func (h *Host) handleRequestReady(id ClientID) {
	if !h.registry.SetReady(id) {
		log.Trace("Ready request for client %d changed nothing", id)
		return
	}
	log.Info("Client %d is ready", id)
	h.broadcastUpsert(Entry{ClientID: id, Ready: true})
	h.publishRoster()
}

func (h *Host) handleStartGame(start GameStart) error {
	if !h.registry.AllReady() {
		return ErrNotAllReady
	}
	msg, err := GameStartMessage(start)
	if err != nil {
		return fmt.Errorf("failed to build game start: %v", err)
	}
	if err := h.broadcast(msg); err != nil {
		return fmt.Errorf("failed to broadcast game start: %v", err)
	}
	log.Info("Game start broadcast for session %s", start.SessionID)
	h.roomEvents.Publish(RoomEvent{Type: RoomEventGameStarting, Roster: h.registry.Snapshot(), GameStart: &start})
	return nil
}

func (h *Host) broadcastUpsert(e Entry) {
	msg, err := UpsertMessage(e)
	if err != nil {
		log.Error("Failed to build upsert entry for client %d: %v", e.ClientID, err)
		return
	}
	if err := h.broadcast(msg); err != nil {
		log.Error("Failed to broadcast upsert entry for client %d: %v", e.ClientID, err)
	}
}

// broadcast sends msg to every remote client currently in the registry.
// Clients that are connected but not yet admitted get their state from the resync.
func (h *Host) broadcast(msg *messages.Message) error {
	snapshot := h.registry.Snapshot()
	ids := make([]ClientID, 0, len(snapshot))
	for _, e := range snapshot {
		if e.ClientID != HostClientID {
			ids = append(ids, e.ClientID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return h.broadcaster.SendToClients(ids, msg)
}

func (h *Host) publishRoster() {
	h.roomEvents.Publish(RoomEvent{Type: RoomEventRosterChanged, Roster: h.registry.Snapshot()})
}

// failPending answers any start command still waiting in the queue.
func (h *Host) failPending(err error) {
	pending, _ := h.queue.ReadAllMessages()
	for _, item := range pending {
		if cmd, ok := item.(*startGameCommand); ok {
			cmd.reply <- err
		}
	}
}

// Enqueue hands a transport event or an inbound client message to the host loop.
func (h *Host) Enqueue(item interface{}) error {
	return h.queue.Enqueue(item)
}

// RequestReady marks the host itself ready on the next tick.
func (h *Host) RequestReady(ctx context.Context) error {
	if err := h.queue.EnqueueWait(ctx, &requestReadyCommand{}); err != nil {
		return fmt.Errorf("failed to enqueue ready request: %v", err)
	}
	return nil
}

// StartGame broadcasts the game start if every entry is ready.
// It returns ErrNotAllReady otherwise, and ErrHostStopped once the loop has exited.
func (h *Host) StartGame(ctx context.Context, start GameStart) error {
	select {
	case <-h.done:
		return ErrHostStopped
	default:
	}
	cmd := &startGameCommand{start: start, reply: make(chan error, 1)}
	if err := h.queue.EnqueueWait(ctx, cmd); err != nil {
		return fmt.Errorf("failed to enqueue game start: %v", err)
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-h.done:
		return ErrHostStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) ClientID() ClientID {
	return HostClientID
}

func (h *Host) Registry() *Registry {
	return h.registry
}

func (h *Host) Snapshot() []Entry {
	return h.registry.Snapshot()
}

func (h *Host) AllReady() bool {
	return h.registry.AllReady()
}

// Subscribe registers handler for room events. Handlers run on the host loop
// and must not block on it.
func (h *Host) Subscribe(handler events.Handler[RoomEvent]) (unsubscribe func()) {
	return h.roomEvents.Subscribe(handler)
}
