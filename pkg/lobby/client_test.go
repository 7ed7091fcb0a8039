package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cbodonnell/lobbysync/pkg/messages"
	"github.com/cbodonnell/lobbysync/pkg/queue"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(msg *messages.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func TestClientRoomRequestReadyDoesNotTouchMirror(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendMessage", mock.MatchedBy(func(msg *messages.Message) bool {
		p, err := messages.DecodePayload[messages.ClientRequestReady](msg)
		return err == nil && msg.Type == messages.MessageTypeClientRequestReady && p.ClientID == 7
	})).Return(nil).Once()

	room := NewClientRoom(NewClientRoomOptions{ClientID: 7, Sender: sender, Queue: queue.NewInMemoryQueue(8)})
	require.NoError(t, room.RequestReady(context.Background()))

	assert.Empty(t, room.Snapshot())
	sender.AssertExpectations(t)
}

func TestClientRoomRequestReadySendError(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendMessage", mock.Anything).Return(errors.New("closed"))

	room := NewClientRoom(NewClientRoomOptions{ClientID: 2, Sender: sender, Queue: queue.NewInMemoryQueue(8)})
	assert.Error(t, room.RequestReady(context.Background()))
}

func TestClientRoomAppliesHostMessages(t *testing.T) {
	q := queue.NewInMemoryQueue(16)
	room := NewClientRoom(NewClientRoomOptions{ClientID: 2, Sender: &mockSender{}, Queue: q})

	rosters := make(chan []Entry, 16)
	starts := make(chan *GameStart, 1)
	room.Subscribe(func(e RoomEvent) {
		switch e.Type {
		case RoomEventRosterChanged:
			rosters <- e.Roster
		case RoomEventGameStarting:
			starts <- e.GameStart
		}
	})

	for _, e := range []Entry{{ClientID: 0, Ready: true}, {ClientID: 2}} {
		msg, err := UpsertMessage(e)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(msg))
	}
	spoofed, err := UpsertMessage(Entry{ClientID: 2, Ready: true})
	require.NoError(t, err)
	spoofed.ClientID = 5
	require.NoError(t, q.Enqueue(spoofed))
	ready, err := UpsertMessage(Entry{ClientID: 2, Ready: true})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ready))
	start, err := GameStartMessage(GameStart{SessionID: "s1", StartsAt: 100})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(start))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- room.Start(ctx) }()

	select {
	case gs := <-starts:
		assert.Equal(t, &GameStart{SessionID: "s1", StartsAt: 100}, gs)
	case <-time.After(time.Second):
		t.Fatal("no game start event")
	}
	assert.Len(t, rosters, 3)
	assert.Equal(t, []Entry{{ClientID: 0, Ready: true}, {ClientID: 2, Ready: true}}, room.Snapshot())
	assert.True(t, room.AllReady())

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, room.Snapshot())
}

func TestClientRoomHostLost(t *testing.T) {
	q := queue.NewInMemoryQueue(4)
	room := NewClientRoom(NewClientRoomOptions{ClientID: 1, Sender: &mockSender{}, Queue: q})

	msg, err := UpsertMessage(Entry{ClientID: 0})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(msg))
	require.NoError(t, q.Enqueue(&HostLost{Err: errors.New("connection reset")}))

	var lost bool
	room.Subscribe(func(e RoomEvent) {
		if e.Type == RoomEventHostLost {
			lost = true
		}
	})

	err = room.Start(context.Background())
	assert.True(t, IsHostLost(err))
	assert.True(t, lost)
	assert.Empty(t, room.Snapshot())
}
