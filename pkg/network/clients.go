package network

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	"golang.org/x/time/rate"
)

const (
	// DefaultMessageRate is the sustained number of messages per second accepted from a client
	DefaultMessageRate = 20
	// DefaultMessageBurst is the number of messages a client may send in a burst
	DefaultMessageBurst = 40
)

// Client represents a logged-in client
type Client struct {
	ID      lobby.ClientID
	UserID  string
	Conn    Conn
	Spawn   messages.Position
	limiter *rate.Limiter
}

// Allow reports whether the client may send another message now.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// ErrConnectionRejected is returned when connection approval turns a client away.
type ErrConnectionRejected struct {
	Reason string
}

func (e *ErrConnectionRejected) Error() string {
	return fmt.Sprintf("connection rejected: %s", e.Reason)
}

// ErrClientNotFound is returned when no client holds the requested id.
type ErrClientNotFound struct {
	ClientID lobby.ClientID
}

func (e *ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %d not found", e.ClientID)
}

// ClientManager assigns client ids and tracks logged-in clients.
// An id stays reserved after its client disconnects until ReleaseClientID
// is called, so it is never reused before the host has processed the disconnect.
type ClientManager struct {
	clients      map[lobby.ClientID]*Client
	reserved     map[lobby.ClientID]struct{}
	clientsLock  sync.RWMutex
	approve      lobby.ApprovalFunc
	messageRate  rate.Limit
	messageBurst int
}

type NewClientManagerOptions struct {
	// Approve decides whether a connection may join. Nil approves everyone.
	Approve      lobby.ApprovalFunc
	MessageRate  float64
	MessageBurst int
}

// NewClientManager creates a new ClientManager
func NewClientManager(opts NewClientManagerOptions) *ClientManager {
	approve := opts.Approve
	if approve == nil {
		approve = func(int) lobby.Approval { return lobby.Approval{Approved: true} }
	}
	messageRate := opts.MessageRate
	if messageRate <= 0 {
		messageRate = DefaultMessageRate
	}
	messageBurst := opts.MessageBurst
	if messageBurst <= 0 {
		messageBurst = DefaultMessageBurst
	}
	return &ClientManager{
		clients:      make(map[lobby.ClientID]*Client),
		reserved:     make(map[lobby.ClientID]struct{}),
		approve:      approve,
		messageRate:  rate.Limit(messageRate),
		messageBurst: messageBurst,
	}
}

// ConnectClient runs connection approval and, if approved, registers the
// client under the lowest free id.
func (cm *ClientManager) ConnectClient(conn Conn, userID string) (*Client, error) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()

	approval := cm.approve(len(cm.clients))
	if !approval.Approved {
		return nil, &ErrConnectionRejected{Reason: approval.Reason}
	}

	clientID, err := cm.lowestFreeID()
	if err != nil {
		return nil, err
	}
	client := &Client{
		ID:      clientID,
		UserID:  userID,
		Conn:    conn,
		Spawn:   approval.Spawn,
		limiter: rate.NewLimiter(cm.messageRate, cm.messageBurst),
	}
	cm.clients[clientID] = client

	return client, nil
}

// DisconnectClient removes a client and keeps its id reserved.
// It reports whether the client was connected.
func (cm *ClientManager) DisconnectClient(clientID lobby.ClientID) bool {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()

	if _, ok := cm.clients[clientID]; !ok {
		return false
	}
	delete(cm.clients, clientID)
	cm.reserved[clientID] = struct{}{}
	return true
}

// ReleaseClientID makes a disconnected client's id available again.
func (cm *ClientManager) ReleaseClientID(clientID lobby.ClientID) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()
	delete(cm.reserved, clientID)
}

func (cm *ClientManager) GetClient(clientID lobby.ClientID) (*Client, error) {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	client, ok := cm.clients[clientID]
	if !ok {
		return nil, &ErrClientNotFound{ClientID: clientID}
	}
	return client, nil
}

// GetClients returns the connected clients ordered by id.
func (cm *ClientManager) GetClients() []*Client {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

func (cm *ClientManager) Count() int {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	return len(cm.clients)
}

// lowestFreeID returns the smallest id >= 1 that is neither connected nor reserved.
// The caller must hold clientsLock.
func (cm *ClientManager) lowestFreeID() (lobby.ClientID, error) {
	for id := lobby.HostClientID + 1; id != lobby.HostClientID; id++ {
		if _, ok := cm.clients[id]; ok {
			continue
		}
		if _, ok := cm.reserved[id]; ok {
			continue
		}
		return id, nil
	}
	return 0, fmt.Errorf("no free client ids")
}
