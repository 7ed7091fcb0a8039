package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/events"
	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/timers"
)

const (
	// DefaultCountdown is the delay between Starting and InGame.
	DefaultCountdown = 3 * time.Second
	// releaseTimeout bounds the directory Leave issued after a failed or cancelled call.
	releaseTimeout = 5 * time.Second
)

// Controller drives the session lifecycle:
//
//	Browsing -> Creating -> InRoom -> Starting -> InGame
//	Browsing -> Joining -> InRoom -> InGame
//	any -> Left -> Browsing
//
// Directory and transport calls are made without holding the controller
// lock. Every room is tagged with an epoch that Leave advances, so results
// and room events from an abandoned attempt are discarded.
type Controller struct {
	directory directory.Directory
	transport Transport
	scheduler *timers.Scheduler
	countdown time.Duration
	now       func() time.Time

	lock           sync.Mutex
	state          State
	epoch          uint64
	cancelPending  context.CancelFunc
	room           Room
	unsubscribe    func()
	allocation     *directory.Allocation
	hostLost       error
	countdownTimer timers.Timer
	starting       bool

	stateChanged  *events.Bus[StateChange]
	rosterChanged *events.Bus[[]lobby.Entry]
	failures      *events.Bus[error]
}

type NewControllerOptions struct {
	Directory directory.Directory
	Transport Transport
	// Scheduler runs the start countdown. A private one is created when nil.
	Scheduler *timers.Scheduler
	Countdown time.Duration
}

func NewController(opts NewControllerOptions) *Controller {
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = timers.NewScheduler(context.Background())
	}
	countdown := opts.Countdown
	if countdown <= 0 {
		countdown = DefaultCountdown
	}
	return &Controller{
		directory:     opts.Directory,
		transport:     opts.Transport,
		scheduler:     scheduler,
		countdown:     countdown,
		now:           time.Now,
		state:         StateBrowsing,
		stateChanged:  events.NewBus[StateChange](),
		rosterChanged: events.NewBus[[]lobby.Entry](),
		failures:      events.NewBus[error](),
	}
}

// Create publishes a new session in the directory and hosts it.
func (c *Controller) Create(ctx context.Context, opts directory.CreateOptions) error {
	ctx, epoch, err := c.beginPending(ctx, StateCreating)
	if err != nil {
		return err
	}

	alloc, err := c.directory.Create(ctx, opts)
	if err != nil {
		return c.abortPending(epoch, nil, c.directoryError("create", err))
	}
	room, err := c.transport.Host(ctx, alloc)
	if err != nil {
		return c.abortPending(epoch, alloc, fmt.Errorf("failed to host session %s: %w", alloc.SessionID, err))
	}
	return c.enterRoom(epoch, alloc, room)
}

// Join takes a seat in sessionID and connects to its host.
func (c *Controller) Join(ctx context.Context, sessionID string) error {
	ctx, epoch, err := c.beginPending(ctx, StateJoining)
	if err != nil {
		return err
	}

	alloc, err := c.directory.Join(ctx, sessionID)
	if err != nil {
		return c.abortPending(epoch, nil, c.directoryError("join", err))
	}
	room, err := c.transport.Connect(ctx, alloc)
	if err != nil {
		return c.abortPending(epoch, alloc, fmt.Errorf("failed to connect to host of session %s: %w", alloc.SessionID, err))
	}
	return c.enterRoom(epoch, alloc, room)
}

// Ready asks the host to mark the local player ready. The roster only
// changes once the host's update comes back.
func (c *Controller) Ready(ctx context.Context) error {
	c.lock.Lock()
	if c.state != StateInRoom {
		state := c.state
		c.lock.Unlock()
		return fmt.Errorf("%w: ready in %s", ErrInvalidState, state)
	}
	room := c.room
	c.lock.Unlock()

	return room.RequestReady(ctx)
}

// Start locks the session in the directory, broadcasts the game start and
// moves to InGame once the countdown elapses. Only the host may start, and
// only when every player is ready.
func (c *Controller) Start(ctx context.Context) error {
	c.lock.Lock()
	if c.state != StateInRoom || c.starting {
		state := c.state
		c.lock.Unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidState, state)
	}
	room := c.room
	alloc := c.allocation
	epoch := c.epoch
	if !room.IsHost() {
		c.lock.Unlock()
		return ErrNotHost
	}
	if !room.AllReady() {
		c.lock.Unlock()
		return ErrNotAllReady
	}
	c.starting = true
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		if c.epoch == epoch {
			c.starting = false
		}
		c.lock.Unlock()
	}()

	if err := c.directory.Lock(ctx, alloc.SessionID); err != nil {
		if c.current(epoch) {
			return c.directoryError("lock", err)
		}
		return ErrCancelled
	}

	start := lobby.GameStart{
		SessionID: alloc.SessionID,
		StartsAt:  c.now().Add(c.countdown).UnixMilli(),
	}
	// the directory has no unlock, so a failure here leaves the session locked
	if err := room.StartGame(ctx, start); err != nil {
		if !c.current(epoch) {
			return ErrCancelled
		}
		if errors.Is(err, lobby.ErrNotAllReady) {
			return ErrNotAllReady
		}
		err = fmt.Errorf("failed to start game: %w", err)
		c.failures.Publish(err)
		return err
	}

	c.lock.Lock()
	if c.epoch != epoch {
		c.lock.Unlock()
		return ErrCancelled
	}
	change := c.setStateLocked(StateStarting, &start)
	c.countdownTimer = c.scheduler.After(c.countdown, func() {
		c.finishCountdown(epoch, start)
	})
	c.lock.Unlock()

	c.stateChanged.Publish(change)
	return nil
}

// Leave abandons the current session from any state. It cancels an
// in-flight Create or Join, shuts the room down and releases the directory
// allocation. The controller ends in Browsing.
func (c *Controller) Leave(ctx context.Context) error {
	c.lock.Lock()
	epoch := c.epoch
	c.lock.Unlock()
	return c.leave(ctx, epoch, nil)
}

// Close leaves the current session and stops the countdown scheduler.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Leave(ctx)
	c.scheduler.Close()
	return err
}

func (c *Controller) leave(ctx context.Context, epoch uint64, cause error) error {
	c.lock.Lock()
	if c.epoch != epoch {
		c.lock.Unlock()
		return nil
	}
	if c.state == StateBrowsing || c.state == StateLeft {
		c.lock.Unlock()
		return nil
	}

	c.epoch++
	left := c.epoch
	if c.cancelPending != nil {
		c.cancelPending()
		c.cancelPending = nil
	}
	if c.countdownTimer != nil {
		c.countdownTimer.Stop()
		c.countdownTimer = nil
	}
	room, unsubscribe, alloc := c.room, c.unsubscribe, c.allocation
	c.room, c.unsubscribe, c.allocation = nil, nil, nil
	c.hostLost = nil
	c.starting = false
	change := c.setStateLocked(StateLeft, nil)
	c.lock.Unlock()

	c.stateChanged.Publish(change)
	if cause != nil {
		c.failures.Publish(cause)
	}

	if unsubscribe != nil {
		unsubscribe()
	}
	if room != nil {
		if err := room.Close(); err != nil {
			log.Warn("Failed to close room: %v", err)
		}
		c.rosterChanged.Publish(nil)
	}

	var err error
	if alloc != nil {
		if leaveErr := c.directory.Leave(ctx); leaveErr != nil {
			err = c.directoryError("leave", leaveErr)
		} else {
			log.Info("Left session %s", alloc.SessionID)
		}
	}

	c.lock.Lock()
	var back *StateChange
	if c.epoch == left && c.state == StateLeft {
		change := c.setStateLocked(StateBrowsing, nil)
		back = &change
	}
	c.lock.Unlock()
	if back != nil {
		c.stateChanged.Publish(*back)
	}
	return err
}

// beginPending moves from Browsing to next and returns a context that
// Leave cancels.
func (c *Controller) beginPending(ctx context.Context, next State) (context.Context, uint64, error) {
	c.lock.Lock()
	if c.state != StateBrowsing {
		state := c.state
		c.lock.Unlock()
		return nil, 0, fmt.Errorf("%w: %s in %s", ErrInvalidState, next, state)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelPending = cancel
	c.hostLost = nil
	epoch := c.epoch
	change := c.setStateLocked(next, nil)
	c.lock.Unlock()

	c.stateChanged.Publish(change)
	return ctx, epoch, nil
}

// abortPending releases alloc and returns to Browsing after a failed
// Create or Join. If Leave already took over, it only releases.
func (c *Controller) abortPending(epoch uint64, alloc *directory.Allocation, cause error) error {
	if alloc != nil {
		c.release(alloc)
	}

	c.lock.Lock()
	if c.epoch != epoch {
		c.lock.Unlock()
		log.Debug("Pending session call finished after leave: %v", cause)
		return ErrCancelled
	}
	c.cancelPending()
	c.cancelPending = nil
	change := c.setStateLocked(StateBrowsing, nil)
	c.lock.Unlock()

	if !IsDirectoryError(cause) {
		log.Error("%v", cause)
	}
	c.stateChanged.Publish(change)
	c.failures.Publish(cause)
	return cause
}

// enterRoom activates room and moves to InRoom, unless Leave was called
// while the room was being opened.
func (c *Controller) enterRoom(epoch uint64, alloc *directory.Allocation, room Room) error {
	unsubscribe := room.Subscribe(c.roomHandler(epoch, room))
	room.Activate()

	c.lock.Lock()
	if c.epoch != epoch {
		c.lock.Unlock()
		unsubscribe()
		if err := room.Close(); err != nil {
			log.Warn("Failed to close abandoned room: %v", err)
		}
		c.release(alloc)
		return ErrCancelled
	}
	c.cancelPending()
	c.cancelPending = nil
	c.room = room
	c.unsubscribe = unsubscribe
	c.allocation = alloc
	change := c.setStateLocked(StateInRoom, nil)
	lost := c.hostLost
	c.lock.Unlock()

	log.Info("Entered session %s as client %d", alloc.SessionID, room.ClientID())
	c.stateChanged.Publish(change)
	c.rosterChanged.Publish(room.Snapshot())

	if lost != nil {
		c.leave(context.Background(), epoch, lost)
		return lost
	}
	return nil
}

func (c *Controller) roomHandler(epoch uint64, room Room) events.Handler[lobby.RoomEvent] {
	return func(event lobby.RoomEvent) {
		switch event.Type {
		case lobby.RoomEventRosterChanged:
			if c.current(epoch) {
				c.rosterChanged.Publish(event.Roster)
			}
		case lobby.RoomEventGameStarting:
			if !room.IsHost() {
				c.handleGameStart(epoch, event.GameStart)
			}
		case lobby.RoomEventHostLost:
			err := event.Err
			if err == nil {
				err = lobby.ErrHostLost
			} else if !errors.Is(err, lobby.ErrHostLost) {
				err = fmt.Errorf("%w: %v", lobby.ErrHostLost, err)
			}
			// room handlers run on the room goroutine, which Leave waits for
			go c.handleHostLost(epoch, err)
		}
	}
}

func (c *Controller) handleGameStart(epoch uint64, start *lobby.GameStart) {
	c.lock.Lock()
	if c.epoch != epoch || c.state != StateInRoom {
		c.lock.Unlock()
		return
	}
	change := c.setStateLocked(StateInGame, start)
	c.lock.Unlock()

	c.stateChanged.Publish(change)
}

func (c *Controller) handleHostLost(epoch uint64, err error) {
	c.lock.Lock()
	if c.epoch != epoch {
		c.lock.Unlock()
		return
	}
	if c.room == nil {
		// enterRoom picks this up once the room is installed
		c.hostLost = err
		c.lock.Unlock()
		return
	}
	c.lock.Unlock()

	log.Warn("Host lost, leaving session: %v", err)
	if leaveErr := c.leave(context.Background(), epoch, err); leaveErr != nil {
		log.Warn("Failed to leave after host loss: %v", leaveErr)
	}
}

func (c *Controller) finishCountdown(epoch uint64, start lobby.GameStart) {
	c.lock.Lock()
	if c.epoch != epoch || c.state != StateStarting {
		c.lock.Unlock()
		return
	}
	c.countdownTimer = nil
	change := c.setStateLocked(StateInGame, &start)
	c.lock.Unlock()

	c.stateChanged.Publish(change)
}

func (c *Controller) release(alloc *directory.Allocation) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.directory.Leave(ctx); err != nil {
		log.Warn("Failed to release allocation for session %s: %v", alloc.SessionID, err)
	}
}

func (c *Controller) directoryError(op string, err error) error {
	de := &DirectoryError{Op: op, Err: err}
	log.Error("%v", de)
	if op == "lock" || op == "leave" {
		// create and join failures are published by abortPending
		c.failures.Publish(de)
	}
	return de
}

func (c *Controller) current(epoch uint64) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.epoch == epoch
}

func (c *Controller) setStateLocked(next State, start *lobby.GameStart) StateChange {
	change := StateChange{From: c.state, To: next, GameStart: start}
	log.Debug("Session state %s -> %s", c.state, next)
	c.state = next
	return change
}

func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Allocation returns the current directory allocation, or nil outside a room.
func (c *Controller) Allocation() *directory.Allocation {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.allocation
}

func (c *Controller) IsHost() bool {
	c.lock.Lock()
	room := c.room
	c.lock.Unlock()
	return room != nil && room.IsHost()
}

// Snapshot returns the current roster sorted by client id.
func (c *Controller) Snapshot() []lobby.Entry {
	c.lock.Lock()
	room := c.room
	c.lock.Unlock()
	if room == nil {
		return nil
	}
	return room.Snapshot()
}

func (c *Controller) AllReady() bool {
	c.lock.Lock()
	room := c.room
	c.lock.Unlock()
	return room != nil && room.AllReady()
}

func (c *Controller) SubscribeState(handler events.Handler[StateChange]) (unsubscribe func()) {
	return c.stateChanged.Subscribe(handler)
}

func (c *Controller) SubscribeRoster(handler events.Handler[[]lobby.Entry]) (unsubscribe func()) {
	return c.rosterChanged.Subscribe(handler)
}

func (c *Controller) SubscribeFailures(handler events.Handler[error]) (unsubscribe func()) {
	return c.failures.Subscribe(handler)
}
