package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	servernetwork "github.com/cbodonnell/lobbysync/pkg/network"
	"github.com/cbodonnell/lobbysync/pkg/queue"
)

// NetworkManager connects a client to a host, logs in and feeds host
// messages into the server message queue. No message is dropped: a full
// queue holds up the reader. When the connection ends without Stop being
// called, a *lobby.HostLost is enqueued.
type NetworkManager struct {
	conn               servernetwork.Conn
	serverMessageQueue queue.Queue
	clientID           lobby.ClientID
	spawn              messages.Position
	cancelClientCtx    context.CancelFunc
	clientWaitGroup    sync.WaitGroup
	stopOnce           sync.Once
}

type NewNetworkManagerOptions struct {
	ServerMessageQueue queue.Queue
}

// NewNetworkManager creates a new network manager.
func NewNetworkManager(opts NewNetworkManagerOptions) *NetworkManager {
	return &NetworkManager{
		serverMessageQueue: opts.ServerMessageQueue,
	}
}

// Start dials address and logs in with token. It returns once the host has
// accepted or refused the login.
func (m *NetworkManager) Start(ctx context.Context, address string, token string) error {
	conn, err := Dial(ctx, address)
	if err != nil {
		return err
	}
	return m.StartWithConn(ctx, conn, token)
}

// StartWithConn logs in over an established connection.
func (m *NetworkManager) StartWithConn(ctx context.Context, conn servernetwork.Conn, token string) error {
	m.conn = conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	success, err := m.login(ctx, token)
	stopped := stop()
	if err != nil {
		conn.Close()
		return err
	}
	if !stopped {
		conn.Close()
		return ctx.Err()
	}

	m.clientID = lobby.ClientID(success.ClientID)
	m.spawn = success.Spawn
	log.Info("Connected to host with client ID %d", m.clientID)

	clientCtx, cancel := context.WithCancel(context.Background())
	m.cancelClientCtx = cancel
	m.clientWaitGroup.Add(1)
	go func() {
		defer m.clientWaitGroup.Done()
		m.handleMessages(clientCtx)
	}()

	return nil
}

func (m *NetworkManager) login(ctx context.Context, token string) (*messages.ServerLoginSuccess, error) {
	msg, err := messages.NewMessage(0, messages.MessageTypeClientLogin, &messages.ClientLogin{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client login: %v", err)
	}
	if err := m.conn.WriteMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send client login: %v", err)
	}

	reply, err := m.conn.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read login reply: %v", err)
	}

	switch reply.Type {
	case messages.MessageTypeServerLoginSuccess:
		success, err := messages.DecodePayload[messages.ServerLoginSuccess](reply)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize server login success message: %v", err)
		}
		return success, nil
	case messages.MessageTypeServerLoginFailure:
		failure, err := messages.DecodePayload[messages.ServerLoginFailure](reply)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize server login failure message: %v", err)
		}
		return nil, &ErrLoginFailure{Reason: failure.Reason}
	default:
		return nil, fmt.Errorf("received unexpected message type from server: %s", reply.Type)
	}
}

// handleMessages reads host messages until the connection ends.
func (m *NetworkManager) handleMessages(ctx context.Context) {
	for {
		msg, err := m.conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Trace("Connection to host closed by client")
				return
			}
			if servernetwork.IsConnectionClosed(err) {
				err = &ErrConnectionClosedByServer{}
			}
			if err := m.serverMessageQueue.EnqueueWait(ctx, &lobby.HostLost{Err: err}); err != nil {
				log.Trace("Host lost not delivered, client stopped: %v", err)
			}
			return
		}
		log.Trace("Received message from host of type %s", msg.Type)

		// waiting here stops reading from the host until the room catches up
		if err := m.serverMessageQueue.EnqueueWait(ctx, msg); err != nil {
			log.Trace("Connection to host closed by client")
			return
		}
	}
}

// SendMessage sends a message to the host.
func (m *NetworkManager) SendMessage(msg *messages.Message) error {
	msg.ClientID = uint32(m.clientID)
	if err := m.conn.WriteMessage(context.Background(), msg); err != nil {
		return fmt.Errorf("failed to send message: %v", err)
	}
	return nil
}

func (m *NetworkManager) ClientID() lobby.ClientID {
	return m.clientID
}

func (m *NetworkManager) Spawn() messages.Position {
	return m.spawn
}

// Stop closes the connection and waits for the reader to exit.
func (m *NetworkManager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		if m.cancelClientCtx == nil {
			log.Warn("Network manager already stopped")
			return
		}
		m.cancelClientCtx()
		err = m.conn.Close()
		log.Debug("Waiting for host connection to stop")
		m.clientWaitGroup.Wait()
	})
	return err
}
