package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	authproviders "github.com/cbodonnell/lobbysync/pkg/auth/providers"
	clientnetwork "github.com/cbodonnell/lobbysync/pkg/client/network"
	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/identity"
	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/network"
	"github.com/cbodonnell/lobbysync/pkg/queue"
	"github.com/cbodonnell/lobbysync/pkg/workers"
	"golang.org/x/sync/errgroup"
)

const (
	// hostQueueSize bounds connection events and client messages waiting for a host tick.
	hostQueueSize = 1024
	// serverMessageQueueSize bounds host messages waiting for the client room.
	serverMessageQueueSize = 1024
)

var _ Transport = &NetTransport{}

// NetTransport hosts rooms on TCP and WebSocket listeners and connects to
// them with the client network manager.
type NetTransport struct {
	authProvider authproviders.AuthProvider
	identity     identity.Provider
	approve      lobby.ApprovalFunc
	tcpPort      int
	wsPort       int
	wsTLS        *network.TLSConfig
	tickInterval time.Duration
	messageRate  float64
	messageBurst int
}

type NewNetTransportOptions struct {
	// AuthProvider verifies client logins on hosted rooms.
	AuthProvider authproviders.AuthProvider
	// Identity supplies the login token when connecting.
	Identity identity.Provider
	// Approve decides which connections a hosted room admits.
	Approve      lobby.ApprovalFunc
	TCPPort      int
	WSPort       int
	WSTLS        *network.TLSConfig
	TickInterval time.Duration
	MessageRate  float64
	MessageBurst int
}

func NewNetTransport(opts NewNetTransportOptions) *NetTransport {
	return &NetTransport{
		authProvider: opts.AuthProvider,
		identity:     opts.Identity,
		approve:      opts.Approve,
		tcpPort:      opts.TCPPort,
		wsPort:       opts.WSPort,
		wsTLS:        opts.WSTLS,
		tickInterval: opts.TickInterval,
		messageRate:  opts.MessageRate,
		messageBurst: opts.MessageBurst,
	}
}

func (t *NetTransport) Host(_ context.Context, alloc *directory.Allocation) (Room, error) {
	if t.authProvider == nil {
		return nil, fmt.Errorf("hosting requires an auth provider")
	}

	hostQueue := queue.NewInMemoryQueue(hostQueueSize)
	clientManager := network.NewClientManager(network.NewClientManagerOptions{
		Approve:      t.approve,
		MessageRate:  t.messageRate,
		MessageBurst: t.messageBurst,
	})
	networkManager := network.NewNetworkManager(network.NewNetworkManagerOptions{
		AuthProvider:  t.authProvider,
		ClientManager: clientManager,
		HostQueue:     hostQueue,
		TCPPort:       t.tcpPort,
		WSPort:        t.wsPort,
		WSServerTLS:   t.wsTLS,
	})
	listeners, err := networkManager.Listen()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	broadcastMessageChan := make(chan workers.BroadcastMessage, workers.BroadcastMessageChanSize)
	host := lobby.NewHost(lobby.NewHostOptions{
		Queue:        hostQueue,
		Broadcaster:  workers.NewBroadcaster(ctx, broadcastMessageChan),
		ReleaseID:    clientManager.ReleaseClientID,
		TickInterval: t.tickInterval,
	})
	worker := workers.NewBroadcastMessageWorker(workers.NewBroadcastMessageWorkerOptions{
		Sender:               networkManager,
		BroadcastMessageChan: broadcastMessageChan,
	})

	log.Info("Hosting session %s", alloc.SessionID)
	return &hostRoom{
		Host:           host,
		networkManager: networkManager,
		worker:         worker,
		listeners:      listeners,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func (t *NetTransport) Connect(ctx context.Context, alloc *directory.Allocation) (Room, error) {
	id, err := t.identity.SignIn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %v", err)
	}

	serverMessageQueue := queue.NewInMemoryQueue(serverMessageQueueSize)
	networkManager := clientnetwork.NewNetworkManager(clientnetwork.NewNetworkManagerOptions{
		ServerMessageQueue: serverMessageQueue,
	})
	if err := networkManager.Start(ctx, alloc.JoinAddress, id.Token); err != nil {
		return nil, err
	}

	room := lobby.NewClientRoom(lobby.NewClientRoomOptions{
		ClientID: networkManager.ClientID(),
		Sender:   networkManager,
		Queue:    serverMessageQueue,
	})
	return &clientRoom{
		ClientRoom:     room,
		networkManager: networkManager,
		done:           make(chan struct{}),
	}, nil
}

// hostRoom runs a lobby.Host with its listeners and broadcast worker.
type hostRoom struct {
	*lobby.Host
	networkManager *network.NetworkManager
	worker         *workers.BroadcastMessageWorker
	listeners      *network.Listeners
	ctx            context.Context
	cancel         context.CancelFunc

	lock      sync.Mutex
	g         *errgroup.Group
	closed    bool
	closeErr  error
	closeOnce sync.Once
}

func (r *hostRoom) IsHost() bool {
	return true
}

func (r *hostRoom) Activate() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed || r.g != nil {
		return
	}

	r.Host.Activate()
	g, ctx := errgroup.WithContext(r.ctx)
	g.Go(func() error {
		return r.Host.Start(ctx)
	})
	g.Go(func() error {
		r.worker.Start(ctx)
		return nil
	})
	g.Go(func() error {
		if err := r.networkManager.Serve(ctx, r.listeners); err != nil {
			log.Error("Host listeners stopped: %v", err)
			return err
		}
		return nil
	})
	r.g = g
}

func (r *hostRoom) Close() error {
	r.closeOnce.Do(func() {
		r.lock.Lock()
		r.closed = true
		g := r.g
		r.lock.Unlock()

		r.cancel()
		if g == nil {
			r.listeners.Close()
			return
		}
		r.closeErr = g.Wait()
	})
	return r.closeErr
}

// clientRoom runs a lobby.ClientRoom over a host connection.
type clientRoom struct {
	*lobby.ClientRoom
	networkManager *clientnetwork.NetworkManager

	lock      sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
	closeOnce sync.Once
}

func (r *clientRoom) IsHost() bool {
	return false
}

func (r *clientRoom) StartGame(context.Context, lobby.GameStart) error {
	return ErrNotHost
}

func (r *clientRoom) Activate() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed || r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		defer close(r.done)
		if err := r.ClientRoom.Start(ctx); err != nil && !lobby.IsHostLost(err) {
			log.Error("Client room stopped: %v", err)
		}
	}()
}

func (r *clientRoom) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.lock.Lock()
		r.closed = true
		cancel := r.cancel
		r.lock.Unlock()

		err = r.networkManager.Stop()
		if cancel != nil {
			cancel()
			<-r.done
		}
	})
	return err
}
