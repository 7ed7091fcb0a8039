package network

import (
	"context"
	"fmt"
	"net"
	"time"

	authproviders "github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	"golang.org/x/sync/errgroup"
)

const (
	// loginTimeout bounds how long a new connection may take to send its login.
	loginTimeout = 10 * time.Second
	// DefaultDeliverTimeout bounds how long a connection waits for room in
	// the host queue before it is dropped.
	DefaultDeliverTimeout = 5 * time.Second
)

// HostQueue receives connection events and client messages for the host loop.
type HostQueue interface {
	EnqueueWait(ctx context.Context, item interface{}) error
}

// NetworkManager accepts client connections, logs clients in and forwards
// their messages to the host loop. Every forwarded message carries the
// id of the connection it arrived on.
type NetworkManager struct {
	authProvider   authproviders.AuthProvider
	clientManager  *ClientManager
	hostQueue      HostQueue
	deliverTimeout time.Duration
	tcpServer      *TCPServer
	wsServer       *WSServer
	tcpPort        int
	wsPort         int
}

type NewNetworkManagerOptions struct {
	AuthProvider  authproviders.AuthProvider
	ClientManager *ClientManager
	HostQueue     HostQueue
	// DeliverTimeout defaults to DefaultDeliverTimeout.
	DeliverTimeout time.Duration
	// TCPPort and WSPort select the listeners to start; zero disables one.
	TCPPort     int
	WSPort      int
	WSServerTLS *TLSConfig
}

func NewNetworkManager(options NewNetworkManagerOptions) *NetworkManager {
	deliverTimeout := options.DeliverTimeout
	if deliverTimeout <= 0 {
		deliverTimeout = DefaultDeliverTimeout
	}
	return &NetworkManager{
		authProvider:   options.AuthProvider,
		clientManager:  options.ClientManager,
		hostQueue:      options.HostQueue,
		deliverTimeout: deliverTimeout,
		tcpServer: NewTCPServer(NewTCPServerOptions{
			Port: options.TCPPort,
		}),
		wsServer: NewWSServer(NewWSServerOptions{
			Port: options.WSPort,
			TLS:  options.WSServerTLS,
		}),
		tcpPort: options.TCPPort,
		wsPort:  options.WSPort,
	}
}

// Start binds and serves the configured listeners until ctx is done or one
// of them fails.
func (n *NetworkManager) Start(ctx context.Context) error {
	listeners, err := n.Listen()
	if err != nil {
		return err
	}
	return n.Serve(ctx, listeners)
}

// Listeners are the bound host sockets. A nil listener is not served.
type Listeners struct {
	TCP net.Listener
	WS  net.Listener
}

// Close closes every bound listener.
func (l *Listeners) Close() {
	if l.TCP != nil {
		l.TCP.Close()
	}
	if l.WS != nil {
		l.WS.Close()
	}
}

// Listen binds the configured ports; a zero port is skipped.
func (n *NetworkManager) Listen() (*Listeners, error) {
	listeners := &Listeners{}
	if n.tcpPort > 0 {
		ln, err := n.tcpServer.Listen()
		if err != nil {
			return nil, err
		}
		listeners.TCP = ln
	}
	if n.wsPort > 0 {
		ln, err := n.wsServer.Listen()
		if err != nil {
			listeners.Close()
			return nil, err
		}
		listeners.WS = ln
	}
	return listeners, nil
}

// Serve accepts connections on listeners until ctx is done.
func (n *NetworkManager) Serve(ctx context.Context, listeners *Listeners) error {
	g, ctx := errgroup.WithContext(ctx)
	if listeners.TCP != nil {
		g.Go(func() error {
			return n.tcpServer.Serve(ctx, listeners.TCP, n.HandleConnection)
		})
	}
	if listeners.WS != nil {
		g.Go(func() error {
			return n.wsServer.Serve(ctx, listeners.WS, n.HandleConnection)
		})
	}
	return g.Wait()
}

func (n *NetworkManager) ClientManager() *ClientManager {
	return n.clientManager
}

func (n *NetworkManager) TCPServer() *TCPServer {
	return n.tcpServer
}

func (n *NetworkManager) WSServer() *WSServer {
	return n.wsServer
}

// HandleConnection serves one connection: it waits for a login, then
// forwards every message to the host queue until the connection ends.
func (n *NetworkManager) HandleConnection(ctx context.Context, conn Conn) {
	client, err := n.awaitLogin(ctx, conn)
	if err != nil {
		log.Warn("Login from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer n.handleDisconnect(client)

	for {
		message, err := conn.ReadMessage(ctx)
		if err != nil {
			if IsConnectionClosed(err) || ctx.Err() != nil {
				log.Debug("Connection closed for client %d", client.ID)
			} else {
				log.Error("Error reading message from client %d: %v", client.ID, err)
			}
			return
		}

		if message.Type == messages.MessageTypeClientLogin {
			log.Warn("Ignoring repeated login from client %d", client.ID)
			continue
		}
		if !client.Allow() {
			log.Debug("Dropping %s from client %d: rate limit exceeded", message.Type, client.ID)
			continue
		}

		message.ClientID = uint32(client.ID)
		if err := n.enqueue(ctx, message); err != nil {
			// the client sees a disconnect instead of a lost message
			log.Error("Failed to deliver message from client %d, closing connection: %v", client.ID, err)
			return
		}
	}
}

func (n *NetworkManager) awaitLogin(ctx context.Context, conn Conn) (*Client, error) {
	loginCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	stop := context.AfterFunc(loginCtx, func() {
		if ctx.Err() == nil && loginCtx.Err() == context.DeadlineExceeded {
			conn.Close()
		}
	})
	defer stop()

	for {
		message, err := conn.ReadMessage(loginCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to read login: %v", err)
		}
		if message.Type != messages.MessageTypeClientLogin {
			log.Warn("Received %s from %s before login", message.Type, conn.RemoteAddr())
			continue
		}

		client, err := n.handleClientLogin(loginCtx, conn, message)
		if err != nil {
			if err := n.sendServerLoginFailure(ctx, conn, err.Error()); err != nil {
				log.Error("Failed to send server login failure: %v", err)
			}
			return nil, err
		}
		return client, nil
	}
}

// handleClientLogin verifies the token, runs approval, answers the client
// and only then tells the host about it.
func (n *NetworkManager) handleClientLogin(ctx context.Context, conn Conn, message *messages.Message) (*Client, error) {
	clientLogin, err := messages.DecodePayload[messages.ClientLogin](message)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal client login: %v", err)
	}

	token, err := n.authProvider.VerifyToken(ctx, clientLogin.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %v", err)
	}

	client, err := n.clientManager.ConnectClient(conn, token.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect client: %v", err)
	}

	if err := n.sendServerLoginSuccess(ctx, client); err != nil {
		n.clientManager.DisconnectClient(client.ID)
		n.clientManager.ReleaseClientID(client.ID)
		return nil, err
	}

	if err := n.enqueue(ctx, &lobby.ClientConnected{ClientID: client.ID}); err != nil {
		n.clientManager.DisconnectClient(client.ID)
		n.clientManager.ReleaseClientID(client.ID)
		return nil, fmt.Errorf("failed to admit client: %v", err)
	}

	log.Info("Client %d connected as %s", client.ID, client.UserID)
	return client, nil
}

func (n *NetworkManager) handleDisconnect(client *Client) {
	if !n.clientManager.DisconnectClient(client.ID) {
		return
	}
	log.Info("Client %d disconnected", client.ID)
	if err := n.enqueue(context.Background(), &lobby.ClientDisconnected{ClientID: client.ID}); err != nil {
		log.Error("Failed to enqueue disconnect for client %d: %v", client.ID, err)
	}
}

// enqueue waits up to the deliver timeout for room in the host queue.
func (n *NetworkManager) enqueue(ctx context.Context, item interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, n.deliverTimeout)
	defer cancel()
	return n.hostQueue.EnqueueWait(ctx, item)
}

func (n *NetworkManager) sendServerLoginSuccess(ctx context.Context, client *Client) error {
	msg, err := messages.NewMessage(uint32(lobby.HostClientID), messages.MessageTypeServerLoginSuccess, &messages.ServerLoginSuccess{
		ClientID: uint32(client.ID),
		Spawn:    client.Spawn,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal server login success: %v", err)
	}

	if err := client.Conn.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send server login success: %v", err)
	}

	return nil
}

func (n *NetworkManager) sendServerLoginFailure(ctx context.Context, conn Conn, reason string) error {
	msg, err := messages.NewMessage(uint32(lobby.HostClientID), messages.MessageTypeServerLoginFailure, &messages.ServerLoginFailure{
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal server login failure: %v", err)
	}

	if err := conn.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send server login failure: %v", err)
	}

	return nil
}

func (n *NetworkManager) SendReliableMessageToClient(ctx context.Context, clientID lobby.ClientID, msg *messages.Message) error {
	client, err := n.clientManager.GetClient(clientID)
	if err != nil {
		return fmt.Errorf("failed to get client %d: %v", clientID, err)
	}

	if err := client.Conn.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send reliable message to client %d: %v", clientID, err)
	}

	return nil
}

// SendReliableMessageToClients sends msg to each listed client in order,
// logging failures for individual clients.
func (n *NetworkManager) SendReliableMessageToClients(ctx context.Context, clientIDs []lobby.ClientID, msg *messages.Message) {
	for _, clientID := range clientIDs {
		if err := n.SendReliableMessageToClient(ctx, clientID, msg); err != nil {
			log.Error("Failed to send %s: %v", msg.Type, err)
		}
	}
}
