package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/lobbysync/pkg/api/handlers"
	"github.com/cbodonnell/lobbysync/pkg/api/middleware"
	authproviders "github.com/cbodonnell/lobbysync/pkg/auth/providers"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/repositories"
	"github.com/gorilla/mux"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port         int
	TLS          *TLSConfig
	AuthProvider authproviders.AuthProvider
	Repository   repositories.Repository
}

// NewAPIServer creates a new http.Server serving the session directory
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts.AuthProvider, opts.Repository),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter returns the directory routes behind CORS and bearer auth.
func NewRouter(authProvider authproviders.AuthProvider, repository repositories.Repository) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.NewAuthMiddleware(authProvider, repository))

	r.HandleFunc("/sessions", handlers.HandleListSessions(repository)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/sessions", handlers.HandleCreateSession(repository)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{sessionID}/join", handlers.HandleJoinSession(repository)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/sessions/{sessionID}/lock", handlers.HandleLockSession(repository)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/sessions/{sessionID}/leave", handlers.HandleLeaveSession(repository)).Methods(http.MethodPost, http.MethodOptions)
	return r
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *APIServer) Start() error {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return nil
		}
		return fmt.Errorf("API server error: %v", err)
	}
	return nil
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
