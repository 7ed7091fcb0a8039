package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbodonnell/lobbysync/pkg/messages"
	"github.com/cbodonnell/lobbysync/pkg/queue"
)

const toAll ClientID = ^ClientID(0)

type sent struct {
	to  ClientID
	ids []ClientID
	msg *messages.Message
}

type recordingBroadcaster struct {
	lock sync.Mutex
	sent []sent
}

func (b *recordingBroadcaster) SendToClient(id ClientID, msg *messages.Message) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.sent = append(b.sent, sent{to: id, msg: msg})
	return nil
}

func (b *recordingBroadcaster) SendToClients(ids []ClientID, msg *messages.Message) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.sent = append(b.sent, sent{to: toAll, ids: ids, msg: msg})
	return nil
}

func (b *recordingBroadcaster) take() []sent {
	b.lock.Lock()
	defer b.lock.Unlock()
	out := b.sent
	b.sent = nil
	return out
}

func newTestHost(t *testing.T) (*Host, *recordingBroadcaster, *[]ClientID) {
	t.Helper()
	b := &recordingBroadcaster{}
	released := &[]ClientID{}
	h := NewHost(NewHostOptions{
		Queue:       queue.NewInMemoryQueue(64),
		Broadcaster: b,
		ReleaseID:   func(id ClientID) { *released = append(*released, id) },
	})
	h.Activate()
	return h, b, released
}

func requestReady(t *testing.T, sender, target ClientID) *messages.Message {
	t.Helper()
	msg, err := messages.NewMessage(uint32(sender), messages.MessageTypeClientRequestReady, messages.ClientRequestReady{ClientID: uint32(target)})
	require.NoError(t, err)
	return msg
}

func decodeUpsert(t *testing.T, msg *messages.Message) Entry {
	t.Helper()
	require.Equal(t, messages.MessageTypeServerUpsertEntry, msg.Type)
	p, err := messages.DecodePayload[messages.ServerUpsertEntry](msg)
	require.NoError(t, err)
	return Entry{ClientID: ClientID(p.ClientID), Ready: p.Ready}
}

func TestHostActivateInsertsHost(t *testing.T) {
	h, _, _ := newTestHost(t)
	assert.Equal(t, []Entry{{ClientID: HostClientID}}, h.Snapshot())
}

func TestHostResyncPrecedesIncrementalUpdates(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&requestReadyCommand{})
	h.process(&ClientConnected{ClientID: 1})
	b.take()

	h.process(&ClientConnected{ClientID: 2})
	out := b.take()

	require.Len(t, out, 4)
	assert.Equal(t, ClientID(2), out[0].to)
	assert.Equal(t, Entry{ClientID: 0, Ready: true}, decodeUpsert(t, out[0].msg))
	assert.Equal(t, ClientID(2), out[1].to)
	assert.Equal(t, Entry{ClientID: 1}, decodeUpsert(t, out[1].msg))
	assert.Equal(t, ClientID(2), out[2].to)
	assert.Equal(t, Entry{ClientID: 2}, decodeUpsert(t, out[2].msg))
	assert.Equal(t, toAll, out[3].to)
	assert.Equal(t, []ClientID{1, 2}, out[3].ids)
	assert.Equal(t, Entry{ClientID: 2}, decodeUpsert(t, out[3].msg))
}

func TestHostBroadcastSkipsUnadmittedClients(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&ClientConnected{ClientID: 1})
	b.take()

	h.process(&requestReadyCommand{})
	out := b.take()
	require.Len(t, out, 1)
	assert.Equal(t, []ClientID{1}, out[0].ids)
}

func TestHostReadyScenario(t *testing.T) {
	h, b, released := newTestHost(t)
	h.registry.Remove(HostClientID)

	h.process(&ClientConnected{ClientID: 5})
	h.process(&ClientConnected{ClientID: 7})
	b.take()

	h.process(requestReady(t, 7, 7))
	assert.Equal(t, []Entry{{ClientID: 5}, {ClientID: 7, Ready: true}}, h.Snapshot())
	assert.False(t, h.AllReady())

	h.process(requestReady(t, 5, 5))
	assert.Equal(t, []Entry{{ClientID: 5, Ready: true}, {ClientID: 7, Ready: true}}, h.Snapshot())
	assert.True(t, h.AllReady())

	out := b.take()
	require.Len(t, out, 2)
	assert.Equal(t, Entry{ClientID: 7, Ready: true}, decodeUpsert(t, out[0].msg))
	assert.Equal(t, Entry{ClientID: 5, Ready: true}, decodeUpsert(t, out[1].msg))

	h.process(&ClientDisconnected{ClientID: 7})
	assert.Equal(t, []Entry{{ClientID: 5, Ready: true}}, h.Snapshot())
	assert.True(t, h.AllReady())
	assert.Equal(t, []ClientID{7}, *released)

	out = b.take()
	require.Len(t, out, 1)
	assert.Equal(t, messages.MessageTypeServerRemoveEntry, out[0].msg.Type)
	assert.Equal(t, []ClientID{5}, out[0].ids)
}

func TestHostDropsSpoofedReadyRequest(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&ClientConnected{ClientID: 1})
	h.process(&ClientConnected{ClientID: 2})
	b.take()

	h.process(requestReady(t, 2, 1))
	ready, _ := h.registry.Ready(1)
	assert.False(t, ready)
	assert.Empty(t, b.take())
}

func TestHostIgnoresUnknownClientReady(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&ClientConnected{ClientID: 5})
	before := h.Snapshot()
	b.take()

	assert.NotPanics(t, func() {
		h.process(requestReady(t, 99, 99))
	})
	assert.Equal(t, before, h.Snapshot())
	assert.Empty(t, b.take())
}

func TestHostDuplicateReadyBroadcastsOnce(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&ClientConnected{ClientID: 3})
	b.take()

	h.process(requestReady(t, 3, 3))
	h.process(requestReady(t, 3, 3))
	assert.Len(t, b.take(), 1)
}

func TestHostReadmissionRebroadcasts(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&ClientConnected{ClientID: 3})
	h.process(requestReady(t, 3, 3))
	b.take()

	h.process(&ClientConnected{ClientID: 3})
	assert.Equal(t, []Entry{{ClientID: 0}, {ClientID: 3, Ready: true}}, h.Snapshot())

	out := b.take()
	require.Len(t, out, 3)
	assert.Equal(t, toAll, out[2].to)
	assert.Equal(t, Entry{ClientID: 3, Ready: true}, decodeUpsert(t, out[2].msg))
}

func TestHostDisconnectUnknownReleasesID(t *testing.T) {
	h, b, released := newTestHost(t)
	h.process(&ClientDisconnected{ClientID: 4})
	h.process(&ClientDisconnected{ClientID: 4})

	assert.Equal(t, []ClientID{4, 4}, *released)
	assert.Empty(t, b.take())
}

func TestHostStartGame(t *testing.T) {
	h, b, _ := newTestHost(t)
	h.process(&ClientConnected{ClientID: 1})
	b.take()

	var started []RoomEvent
	unsubscribe := h.Subscribe(func(e RoomEvent) {
		if e.Type == RoomEventGameStarting {
			started = append(started, e)
		}
	})
	defer unsubscribe()

	cmd := &startGameCommand{start: GameStart{SessionID: "s1", StartsAt: 42}, reply: make(chan error, 1)}
	h.process(cmd)
	assert.ErrorIs(t, <-cmd.reply, ErrNotAllReady)
	assert.Empty(t, b.take())

	h.process(&requestReadyCommand{})
	h.process(requestReady(t, 1, 1))
	b.take()

	h.process(cmd)
	require.NoError(t, <-cmd.reply)
	out := b.take()
	require.Len(t, out, 1)
	assert.Equal(t, messages.MessageTypeServerGameStart, out[0].msg.Type)
	require.Len(t, started, 1)
	assert.Equal(t, "s1", started[0].GameStart.SessionID)
}

func TestHostLoop(t *testing.T) {
	b := &recordingBroadcaster{}
	h := NewHost(NewHostOptions{
		Queue:        queue.NewInMemoryQueue(64),
		Broadcaster:  b,
		TickInterval: time.Millisecond,
	})
	h.Activate()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	require.NoError(t, h.Enqueue(&ClientConnected{ClientID: 1}))
	require.NoError(t, h.Enqueue(requestReady(t, 1, 1)))
	require.NoError(t, h.RequestReady(ctx))

	assert.Eventually(t, h.AllReady, time.Second, time.Millisecond)
	assert.Equal(t, 2, h.Registry().Len())
	require.NoError(t, h.StartGame(ctx, GameStart{SessionID: "s1"}))

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, h.Registry().Len(), "registry is discarded on shutdown")
}

func TestHostStartGameAfterLoopExit(t *testing.T) {
	h := NewHost(NewHostOptions{
		Queue:        queue.NewInMemoryQueue(64),
		Broadcaster:  &recordingBroadcaster{},
		TickInterval: time.Millisecond,
	})
	h.Activate()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()
	cancel()
	require.NoError(t, <-done)

	result := make(chan error, 1)
	go func() { result <- h.StartGame(context.Background(), GameStart{SessionID: "s1"}) }()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrHostStopped)
	case <-time.After(time.Second):
		t.Fatal("StartGame blocked after the host loop exited")
	}
}
