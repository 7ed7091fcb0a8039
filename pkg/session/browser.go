package session

import (
	"context"
	"sync"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/events"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/timers"
)

// DefaultRefreshInterval is how often the browser lists sessions.
const DefaultRefreshInterval = 2 * time.Second

// Browser periodically lists joinable sessions. Sessions hosted by the
// local player and locked sessions are left out.
type Browser struct {
	directory directory.Directory
	scheduler *timers.Scheduler
	interval  time.Duration
	playerID  string

	lock     sync.Mutex
	timer    timers.Timer
	sessions []directory.SessionSummary

	updates *events.Bus[[]directory.SessionSummary]
}

type NewBrowserOptions struct {
	Directory directory.Directory
	Scheduler *timers.Scheduler
	Interval  time.Duration
	// PlayerID is the local player, whose own sessions are hidden.
	PlayerID string
}

func NewBrowser(opts NewBrowserOptions) *Browser {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Browser{
		directory: opts.Directory,
		scheduler: opts.Scheduler,
		interval:  interval,
		playerID:  opts.PlayerID,
		updates:   events.NewBus[[]directory.SessionSummary](),
	}
}

// Start refreshes immediately and then every interval until Stop.
func (b *Browser) Start(ctx context.Context) {
	b.lock.Lock()
	if b.timer != nil {
		b.lock.Unlock()
		return
	}
	b.timer = b.scheduler.Every(b.interval, func() {
		b.refreshLogged(ctx)
	})
	b.lock.Unlock()

	b.refreshLogged(ctx)
}

func (b *Browser) Stop() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Refresh lists sessions once, stores and publishes the filtered result.
func (b *Browser) Refresh(ctx context.Context) ([]directory.SessionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, b.interval)
	defer cancel()

	all, err := b.directory.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]directory.SessionSummary, 0, len(all))
	for _, s := range all {
		if s.Locked || (b.playerID != "" && s.HostID == b.playerID) {
			continue
		}
		visible = append(visible, s)
	}

	b.lock.Lock()
	b.sessions = visible
	b.lock.Unlock()

	b.updates.Publish(visible)
	return visible, nil
}

func (b *Browser) refreshLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := b.Refresh(ctx); err != nil {
		log.Warn("Failed to refresh sessions: %v", err)
	}
}

// Sessions returns the result of the last successful refresh.
func (b *Browser) Sessions() []directory.SessionSummary {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.sessions
}

func (b *Browser) Subscribe(handler events.Handler[[]directory.SessionSummary]) (unsubscribe func()) {
	return b.updates.Subscribe(handler)
}
