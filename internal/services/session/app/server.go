package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cityofconcourse/concourse/internal/id"
	"github.com/cityofconcourse/concourse/internal/services/session/storage"
	"github.com/cityofconcourse/concourse/internal/services/session/storage/sqlite"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Config defines the inputs for the session service process.
type Config struct {
	// HTTPAddr is the listen address.
	HTTPAddr string
	// PublicHost is the host:port clients reach this process on. Defaults to
	// HTTPAddr.
	PublicHost string
	// HostID names this process in durable session records. Generated when
	// empty, which also makes startup reconciliation a no-op.
	HostID string
	// StoragePath is the SQLite database file for session records and logs.
	StoragePath string
	// TokenSecret verifies access tokens minted by the campaign site. When
	// empty, token verification is disabled and the raw bearer token is
	// trusted as the user id.
	TokenSecret       string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the session HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
	registry        *Registry
}

// NewServer opens storage, reconciles orphaned session records, and wires
// the registry behind the HTTP surface.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.StoragePath) == "" {
		return nil, errors.New("storage path is required")
	}
	publicHost := strings.TrimSpace(config.PublicHost)
	if publicHost == "" {
		publicHost = httpAddr
	}
	hostID := strings.TrimSpace(config.HostID)
	if hostID == "" {
		generated, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate host id: %w", err)
		}
		hostID = generated
		log.Printf("session: no host id configured, using %q for this run", hostID)
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	store, err := sqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}

	registry, err := NewRegistry(RegistryConfig{
		Stores:     storage.Stores{Session: store, Log: store},
		HostID:     hostID,
		PublicHost: publicHost,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := registry.ReconcileOnStartup(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	var handler http.Handler
	if secret := strings.TrimSpace(config.TokenSecret); secret != "" {
		authorizer, err := NewTokenAuthorizer([]byte(secret))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		handler = NewHandlerWithAuthorizer(registry, authorizer)
	} else {
		log.Printf("session: token verification is disabled")
		handler = NewHandler(registry)
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		store:    store,
		registry: registry,
	}, nil
}

// Run creates and serves a session server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init session server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve session: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("session server is nil")
	}

	serveErr := make(chan error, 1)
	log.Printf("session server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("session: close storage: %v", err)
		}
	}
}
