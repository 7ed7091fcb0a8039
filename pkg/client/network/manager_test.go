package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	servernetwork "github.com/cbodonnell/lobbysync/pkg/network"
	"github.com/cbodonnell/lobbysync/pkg/queue"
)

// fakeHost answers the login on the host end of a pipe.
func fakeHost(t *testing.T, reply *messages.Message) (servernetwork.Conn, servernetwork.Conn, <-chan *messages.Message) {
	t.Helper()
	hostEnd, clientEnd := net.Pipe()
	host := servernetwork.NewTCPConn(hostEnd)
	logins := make(chan *messages.Message, 1)
	go func() {
		msg, err := host.ReadMessage(context.Background())
		if err != nil {
			return
		}
		logins <- msg
		host.WriteMessage(context.Background(), reply)
	}()
	return host, servernetwork.NewTCPConn(clientEnd), logins
}

func dequeue(t *testing.T, q queue.Queue) interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return item
}

func TestNetworkManagerLoginAndHostLost(t *testing.T) {
	success, err := messages.NewMessage(0, messages.MessageTypeServerLoginSuccess, messages.ServerLoginSuccess{ClientID: 3, Spawn: lobby.SpawnB})
	require.NoError(t, err)
	host, client, logins := fakeHost(t, success)

	q := queue.NewInMemoryQueue(8)
	m := NewNetworkManager(NewNetworkManagerOptions{ServerMessageQueue: q})
	require.NoError(t, m.StartWithConn(context.Background(), client, "token-1"))

	login := <-logins
	payload, err := messages.DecodePayload[messages.ClientLogin](login)
	require.NoError(t, err)
	assert.Equal(t, "token-1", payload.Token)
	assert.Equal(t, lobby.ClientID(3), m.ClientID())
	assert.Equal(t, lobby.SpawnB, m.Spawn())

	upsert, err := lobby.UpsertMessage(lobby.Entry{ClientID: 3})
	require.NoError(t, err)
	go host.WriteMessage(context.Background(), upsert)
	assert.Equal(t, upsert, dequeue(t, q))

	ready, err := lobby.RequestReadyMessage(3)
	require.NoError(t, err)
	go func() { assert.NoError(t, m.SendMessage(ready)) }()
	got, err := host.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.ClientID)

	require.NoError(t, host.Close())
	lost, ok := dequeue(t, q).(*lobby.HostLost)
	require.True(t, ok)
	assert.IsType(t, &ErrConnectionClosedByServer{}, lost.Err)
}

func TestNetworkManagerLoginFailure(t *testing.T) {
	failure, err := messages.NewMessage(0, messages.MessageTypeServerLoginFailure, messages.ServerLoginFailure{Reason: "session is full"})
	require.NoError(t, err)
	_, client, _ := fakeHost(t, failure)

	m := NewNetworkManager(NewNetworkManagerOptions{ServerMessageQueue: queue.NewInMemoryQueue(8)})
	err = m.StartWithConn(context.Background(), client, "token")
	require.Error(t, err)
	assert.True(t, IsLoginFailure(err))
}

func TestNetworkManagerStopDoesNotReportHostLost(t *testing.T) {
	success, err := messages.NewMessage(0, messages.MessageTypeServerLoginSuccess, messages.ServerLoginSuccess{ClientID: 1})
	require.NoError(t, err)
	_, client, _ := fakeHost(t, success)

	q := queue.NewInMemoryQueue(8)
	m := NewNetworkManager(NewNetworkManagerOptions{ServerMessageQueue: q})
	require.NoError(t, m.StartWithConn(context.Background(), client, "token"))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Equal(t, 0, q.Size())
}

func TestNetworkManagerLoginCancelled(t *testing.T) {
	_, clientEnd := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewNetworkManager(NewNetworkManagerOptions{ServerMessageQueue: queue.NewInMemoryQueue(1)})
	assert.Error(t, m.StartWithConn(ctx, servernetwork.NewTCPConn(clientEnd), "token"))
}

func TestDialUnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "udp://localhost:1234")
	assert.Error(t, err)
}

func TestNetworkManagerWaitsForFullQueue(t *testing.T) {
	success, err := messages.NewMessage(0, messages.MessageTypeServerLoginSuccess, messages.ServerLoginSuccess{ClientID: 1})
	require.NoError(t, err)
	host, client, _ := fakeHost(t, success)

	q := queue.NewInMemoryQueue(2)
	m := NewNetworkManager(NewNetworkManagerOptions{ServerMessageQueue: q})
	require.NoError(t, m.StartWithConn(context.Background(), client, "token"))
	defer m.Stop()

	var upserts []*messages.Message
	for id := lobby.ClientID(0); id < 3; id++ {
		upsert, err := lobby.UpsertMessage(lobby.Entry{ClientID: id})
		require.NoError(t, err)
		upserts = append(upserts, upsert)
	}
	go func() {
		for _, upsert := range upserts {
			if !assert.NoError(t, host.WriteMessage(context.Background(), upsert)) {
				return
			}
		}
		host.Close()
	}()

	assert.Eventually(t, func() bool { return q.Size() == 2 }, time.Second, time.Millisecond)

	for _, upsert := range upserts {
		assert.Equal(t, upsert, dequeue(t, q))
	}
	_, ok := dequeue(t, q).(*lobby.HostLost)
	assert.True(t, ok, "host loss is delivered after every message")
}
