package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/config"
	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/identity"
	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/session"
	"github.com/cbodonnell/lobbysync/pkg/timers"
	"github.com/cbodonnell/lobbysync/pkg/version"
)

func main() {
	sessionID := flag.String("session", "", "Session to join, the first open one when empty")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.NewConsole(os.Stdout, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting client version %s", version.Get())

	cfg, err := config.LoadPeerConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identityProvider, err := identity.NewFromConfig(cfg.Auth)
	if err != nil {
		panic(fmt.Sprintf("Failed to create identity provider: %v", err))
	}
	player, err := identityProvider.SignIn(ctx)
	if err != nil {
		log.Error("Failed to sign in: %v", err)
		return
	}
	log.Info("Signed in as %s", player.PlayerID)

	dir := directory.NewHTTPClient(directory.NewHTTPClientOptions{
		BaseURL:  cfg.DirectoryURL,
		Identity: identityProvider,
	})
	scheduler := timers.NewScheduler(ctx)
	controller := session.NewController(session.NewControllerOptions{
		Directory: dir,
		Transport: session.NewNetTransport(session.NewNetTransportOptions{Identity: identityProvider}),
		Scheduler: scheduler,
		Countdown: cfg.StartCountdown,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := controller.Close(closeCtx); err != nil {
			log.Error("Failed to leave session: %v", err)
		}
	}()

	if *sessionID == "" {
		*sessionID, err = waitForSession(ctx, dir, scheduler, cfg.RefreshInterval, player.PlayerID)
		if err != nil {
			log.Error("No session to join: %v", err)
			return
		}
	}

	changes := make(chan session.StateChange, 16)
	controller.SubscribeState(func(change session.StateChange) {
		log.Info("Session state %s -> %s", change.From, change.To)
		select {
		case changes <- change:
		default:
		}
	})
	controller.SubscribeRoster(func(roster []lobby.Entry) {
		log.Info("Roster: %v", roster)
	})
	controller.SubscribeFailures(func(err error) {
		log.Error("Session failure: %v", err)
	})

	if err := controller.Join(ctx, *sessionID); err != nil {
		log.Error("Failed to join session %s: %v", *sessionID, err)
		return
	}
	if err := controller.Ready(ctx); err != nil {
		log.Error("Failed to mark ready: %v", err)
		return
	}
	log.Info("Ready, waiting for the host to start")

	for {
		select {
		case <-ctx.Done():
			return
		case change := <-changes:
			switch change.To {
			case session.StateInGame:
				startsIn := time.Until(time.UnixMilli(change.GameStart.StartsAt))
				log.Info("Game starting in %s", startsIn.Round(time.Millisecond))
				return
			case session.StateLeft:
				return
			}
		}
	}
}

// waitForSession browses until a session with a free seat shows up.
func waitForSession(ctx context.Context, dir directory.Directory, scheduler *timers.Scheduler, interval time.Duration, playerID string) (string, error) {
	browser := session.NewBrowser(session.NewBrowserOptions{
		Directory: dir,
		Scheduler: scheduler,
		Interval:  interval,
		PlayerID:  playerID,
	})

	found := make(chan string, 1)
	unsubscribe := browser.Subscribe(func(sessions []directory.SessionSummary) {
		for _, s := range sessions {
			if s.Full() {
				continue
			}
			log.Info("Found session %s (%s, %d/%d, %s)", s.ID, s.Name, s.CurrentCount, s.MaxCount, s.Difficulty())
			select {
			case found <- s.ID:
			default:
			}
			return
		}
		log.Info("Waiting for an open session")
	})
	defer unsubscribe()

	browser.Start(ctx)
	defer browser.Stop()

	select {
	case id := <-found:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
