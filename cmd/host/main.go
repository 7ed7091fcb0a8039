package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authproviders "github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/cbodonnell/lobbysync/pkg/config"
	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/identity"
	"github.com/cbodonnell/lobbysync/pkg/lobby"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/network"
	"github.com/cbodonnell/lobbysync/pkg/session"
	"github.com/cbodonnell/lobbysync/pkg/timers"
	"github.com/cbodonnell/lobbysync/pkg/version"
)

func main() {
	name := flag.String("name", "Monster Lobby", "Session name")
	maxPlayers := flag.Int("max-players", directory.DefaultMaxPlayers, "Maximum number of players, host included")
	difficulty := flag.Int("difficulty", 0, "Difficulty index")
	tcpPort := flag.Int("tcp-port", 8889, "TCP port to host on")
	wsPort := flag.Int("ws-port", 0, "WebSocket port to host on, 0 to disable")
	wsCertFile := flag.String("ws-tls-cert", "", "TLS certificate for the WebSocket listener")
	wsKeyFile := flag.String("ws-tls-key", "", "TLS key for the WebSocket listener")
	twoSeat := flag.Bool("two-seat", false, "Admit exactly one client at the second spawn position")
	autoStart := flag.Bool("auto-start", false, "Mark the host ready and start once every player is ready")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.NewConsole(os.Stdout, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting host version %s", version.Get())

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
	authProvider, err := authproviders.NewFromConfig(ctx, cfg.Auth)
	if err != nil {
		panic(fmt.Sprintf("Failed to create auth provider: %v", err))
	}

	// the host holds its own seat, clients are counted from zero
	approve := lobby.CapacityApproval(*maxPlayers - 1)
	if *twoSeat {
		approve = lobby.ApprovalFunc(func(order int) lobby.Approval {
			return lobby.TwoSeatApproval(order + 1)
		})
	}

	var wsTLS *network.TLSConfig
	if *wsCertFile != "" && *wsKeyFile != "" {
		wsTLS = &network.TLSConfig{CertFile: *wsCertFile, KeyFile: *wsKeyFile}
	}

	transport := session.NewNetTransport(session.NewNetTransportOptions{
		AuthProvider: authProvider,
		Identity:     identityProvider,
		Approve:      approve,
		TCPPort:      *tcpPort,
		WSPort:       *wsPort,
		WSTLS:        wsTLS,
		TickInterval: cfg.TickInterval,
		MessageRate:  cfg.MessageRate,
		MessageBurst: cfg.MessageBurst,
	})
	scheduler := timers.NewScheduler(ctx)
	controller := session.NewController(session.NewControllerOptions{
		Directory: directory.NewHTTPClient(directory.NewHTTPClientOptions{
			BaseURL:  cfg.DirectoryURL,
			Identity: identityProvider,
		}),
		Transport: transport,
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

	rosterChanged := make(chan []lobby.Entry, 16)
	controller.SubscribeRoster(func(roster []lobby.Entry) {
		log.Info("Roster: %s", formatRoster(roster))
		select {
		case rosterChanged <- roster:
		default:
		}
	})
	left := make(chan struct{}, 1)
	controller.SubscribeState(func(change session.StateChange) {
		log.Info("Session state %s -> %s", change.From, change.To)
		if change.To == session.StateInGame {
			log.Info("Game started")
		}
		if change.To == session.StateLeft {
			select {
			case left <- struct{}{}:
			default:
			}
		}
	})
	controller.SubscribeFailures(func(err error) {
		log.Error("Session failure: %v", err)
	})

	err = controller.Create(ctx, directory.CreateOptions{
		Name:        *name,
		MaxPlayers:  *maxPlayers,
		Difficulty:  *difficulty,
		JoinAddress: fmt.Sprintf("tcp://%s:%d", cfg.AdvertiseHost, *tcpPort),
	})
	if err != nil {
		log.Error("Failed to create session: %v", err)
		return
	}
	log.Info("Hosting session %s", controller.Allocation().SessionID)

	if *autoStart {
		if err := controller.Ready(ctx); err != nil {
			log.Error("Failed to mark host ready: %v", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down host")
			return
		case <-left:
			return
		case roster := <-rosterChanged:
			if !*autoStart || len(roster) < 2 || controller.State() != session.StateInRoom {
				continue
			}
			if err := controller.Start(ctx); err != nil {
				if errors.Is(err, session.ErrNotAllReady) {
					continue
				}
				log.Error("Failed to start game: %v", err)
			}
		}
	}
}

func formatRoster(roster []lobby.Entry) string {
	if len(roster) == 0 {
		return "(empty)"
	}
	parts := make([]string, 0, len(roster))
	for _, e := range roster {
		mark := " "
		if e.Ready {
			mark = "x"
		}
		parts = append(parts, fmt.Sprintf("[%s] %d", mark, e.ClientID))
	}
	return strings.Join(parts, " ")
}
