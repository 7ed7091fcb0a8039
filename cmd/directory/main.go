package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/api"
	authproviders "github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/cbodonnell/lobbysync/pkg/config"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/repositories"
	"github.com/cbodonnell/lobbysync/pkg/version"
	"golang.org/x/sync/errgroup"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stdout, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting directory server version %s", version.Get())

	cfg, err := config.LoadDirectoryConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authProvider, err := authproviders.NewFromConfig(ctx, cfg.Auth)
	if err != nil {
		panic(fmt.Sprintf("Failed to create auth provider: %v", err))
	}
	if cfg.Auth.FirebaseProjectID == "" {
		log.Warn("No Firebase project configured, accepting locally signed tokens")
	}

	repository, err := repositories.New(ctx, cfg.DatabaseURL)
	if err != nil {
		panic(fmt.Sprintf("Failed to create repository: %v", err))
	}
	defer repository.Close(context.Background())

	apiServerOpts := api.NewAPIServerOptions{
		Port:         cfg.Port,
		AuthProvider: authProvider,
		Repository:   repository,
	}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: cfg.TLSCertFile,
			KeyFile:  cfg.TLSKeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Directory server stopped: %v", err)
		os.Exit(1)
	}
	log.Info("Directory server stopped")
}
