package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/messages"
)

type mockSender struct {
	mock.Mock
	lock  sync.Mutex
	order []messages.MessageType
}

func (m *mockSender) SendReliableMessageToClient(ctx context.Context, clientID lobby.ClientID, msg *messages.Message) error {
	args := m.Called(clientID, msg)
	m.record(msg)
	return args.Error(0)
}

func (m *mockSender) SendReliableMessageToClients(ctx context.Context, clientIDs []lobby.ClientID, msg *messages.Message) {
	m.Called(clientIDs, msg)
	m.record(msg)
}

func (m *mockSender) record(msg *messages.Message) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.order = append(m.order, msg.Type)
}

func (m *mockSender) sent() []messages.MessageType {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]messages.MessageType(nil), m.order...)
}

func TestBroadcastWorkerPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan BroadcastMessage, BroadcastMessageChanSize)
	sender := &mockSender{}
	worker := NewBroadcastMessageWorker(NewBroadcastMessageWorkerOptions{Sender: sender, BroadcastMessageChan: ch})
	broadcaster := NewBroadcaster(ctx, ch)

	upsert, err := lobby.UpsertMessage(lobby.Entry{ClientID: 1})
	require.NoError(t, err)
	remove, err := lobby.RemoveMessage(2)
	require.NoError(t, err)
	start, err := lobby.GameStartMessage(lobby.GameStart{SessionID: "s"})
	require.NoError(t, err)

	sender.On("SendReliableMessageToClient", lobby.ClientID(1), upsert).Return(nil).Once()
	sender.On("SendReliableMessageToClients", []lobby.ClientID{1, 3}, remove).Once()
	sender.On("SendReliableMessageToClients", []lobby.ClientID{1, 3}, start).Once()

	require.NoError(t, broadcaster.SendToClient(1, upsert))
	require.NoError(t, broadcaster.SendToClients([]lobby.ClientID{1, 3}, remove))
	require.NoError(t, broadcaster.SendToClients([]lobby.ClientID{1, 3}, start))

	go worker.Start(ctx)

	assert.Eventually(t, func() bool { return len(sender.sent()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []messages.MessageType{
		messages.MessageTypeServerUpsertEntry,
		messages.MessageTypeServerRemoveEntry,
		messages.MessageTypeServerGameStart,
	}, sender.sent())
	sender.AssertExpectations(t)
}

func TestBroadcasterClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	broadcaster := NewBroadcaster(ctx, make(chan BroadcastMessage))
	cancel()

	msg, err := lobby.RemoveMessage(1)
	require.NoError(t, err)
	assert.ErrorIs(t, broadcaster.SendToClient(1, msg), ErrBroadcasterClosed)
}
