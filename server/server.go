package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bosley/rtstt/logger"
	"github.com/bosley/rtstt/scribe"
)

const (
	defaultSendQueueSize   = 256
	defaultReadLimit       = 1 << 20
	defaultWriteTimeout    = 10 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	Host string
	Port int

	// TLS is used when both are set
	CertFile string
	KeyFile  string

	SendQueueSize   int
	ReadLimit       int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// Server accepts websocket clients, feeds their audio to the scribe and
// broadcasts the scribe's transcripts to every connected client.
type Server struct {
	cfg      Config
	scribe   *scribe.Scribe
	logger   *logger.Logger
	clients  *ClientList
	upgrader websocket.Upgrader
	router   *mux.Router

	// Cancelled on shutdown; every connection handler closes its client on it
	baseCtx context.Context
	cancel  context.CancelFunc

	handlers     sync.WaitGroup
	dispatchDone chan struct{}
}

func New(cfg Config, sc *scribe.Scribe, log *logger.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg.withDefaults(),
		scribe:  sc,
		logger:  log.Named("server"),
		clients: NewClientList(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients may be served from any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx:      ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/clients", s.handleListClients).Methods(http.MethodGet)
	router.PathPrefix("/").HandlerFunc(s.handleWebSocket)
	s.router = router

	return s
}

func (s *Server) Routes() http.Handler {
	return s.router
}

func (s *Server) Clients() *ClientList {
	return s.clients
}

// Run starts the scribe, binds the listener and serves until ctx is done.
// It returns an error only when the scribe cannot become ready or the
// address cannot be bound.
func (s *Server) Run(ctx context.Context) error {
	if err := s.startScribe(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.stopScribe()
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr(), err)
	}

	return s.serve(ctx, ln)
}

func (s *Server) startScribe(ctx context.Context) error {
	s.logger.Info("Waiting for recognizer to become ready")
	if err := s.scribe.Start(ctx); err != nil {
		return err
	}
	go s.dispatch(s.baseCtx, s.scribe.Events())
	return nil
}

func (s *Server) stopScribe() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.scribe.Stop(ctx); err != nil {
		s.logger.Error("Error stopping recognizer", logger.Error(err))
	}
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:     s.router,
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}

	tlsEnabled := s.cfg.CertFile != "" && s.cfg.KeyFile != ""
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			err = httpServer.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	s.logger.Info("Server listening",
		logger.String("address", ln.Addr().String()),
		logger.Bool("tls", tlsEnabled))

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown requested")
	case err := <-serveErr:
		if err != nil {
			s.logger.Error("HTTP server error", logger.Error(err))
			runErr = err
		}
	}

	s.shutdown(httpServer)
	return runErr
}

func (s *Server) shutdown(httpServer *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", logger.Error(err))
	}

	s.stopScribe()

	s.cancel()
	waited := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for connection handlers", logger.Int("clients", s.clients.Len()))
	}

	select {
	case <-s.dispatchDone:
	case <-ctx.Done():
	}
	s.logger.Info("Server stopped")
}

func (s *Server) pingPeriod() time.Duration {
	return (s.cfg.PongTimeout * 9) / 10
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type clientInfo struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	snapshot := s.clients.Snapshot()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ConnectedAt.Before(snapshot[j].ConnectedAt)
	})

	clients := make([]clientInfo, 0, len(snapshot))
	for _, c := range snapshot {
		clients = append(clients, clientInfo{
			ID:          c.ID.String(),
			Addr:        c.Addr,
			ConnectedAt: c.ConnectedAt,
		})
	}

	s.logger.Debug("Sending client list", logger.Int("clients", len(clients)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(clients); err != nil {
		s.logger.Error("Failed to encode response", logger.Error(err))
	}
}
