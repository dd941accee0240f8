// Package api exposes the greeting ledger over HTTP: a signed write endpoint,
// paginated reads, a websocket live feed and Prometheus metrics.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/luca-patrignani/greetme/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

const basePath = "/api/v1"

// Ledger is the part of the engine the API serves.
type Ledger interface {
	SubmitOnce(ctx context.Context, author, nonce, text string) (ledger.Receipt, error)
	Greetings(page, size int) (ledger.Page, error)
	Total() int
	Get(id uint64) (ledger.Greeting, error)
	ByAuthor(author string) []ledger.Greeting
	Payouts() []ledger.Payout
	Status() ledger.Status
	Verify() error
}

type Config struct {
	Addr          string
	RateLimit     float64
	Burst         int
	MaxTextLength int
	MaxPageSize   int
	// AllowedOrigins lists the browser origins that may open the live feed
	// besides the server's own. "*" allows every origin.
	AllowedOrigins  []string
	TLS             bool
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		RateLimit:       10,
		Burst:           20,
		MaxTextLength:   280,
		MaxPageSize:     100,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves a Ledger. The hub must be registered as a listener of the
// same ledger for the live feed to receive events.
type Server struct {
	cfg      Config
	ledger   Ledger
	hub      *notify.Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	limiter  *rateLimiter
	upgrader websocket.Upgrader
	router   *mux.Router

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	certPEM  []byte
	cancel   context.CancelFunc
	served   chan error
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func NewServer(cfg Config, l Ledger, hub *notify.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		ledger:   l,
		hub:      hub,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter:  newRateLimiter(cfg.RateLimit, cfg.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := router.PathPrefix(basePath).Subrouter()
	v1.Use(s.logRequests)
	if s.cfg.RateLimit > 0 {
		v1.Use(s.limiter.middleware)
	}
	v1.HandleFunc("/greetings", s.handle(s.submit)).Methods(http.MethodPost)
	v1.HandleFunc("/greetings", s.handle(s.greetings)).Methods(http.MethodGet)
	v1.HandleFunc("/greetings/count", s.handle(s.count)).Methods(http.MethodGet)
	v1.HandleFunc("/greetings/{id:[0-9]+}", s.handle(s.greeting)).Methods(http.MethodGet)
	v1.HandleFunc("/authors/{address}/greetings", s.handle(s.byAuthor)).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handle(s.status)).Methods(http.MethodGet)
	v1.HandleFunc("/payouts", s.handle(s.payouts)).Methods(http.MethodGet)
	v1.HandleFunc("/verify", s.handle(s.verify)).Methods(http.MethodGet)
	v1.HandleFunc("/feed", s.feed).Methods(http.MethodGet)
	return router
}

// Handler returns the HTTP handler of the API, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("server already started")
	}

	l, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS {
		cert, certPEM, err := GenerateSelfSignedCert(l.Addr().String())
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
		s.certPEM = certPEM
		l = tls.NewListener(l, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	bg, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.limiter.cleanup(bg)

	s.listener = l
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return bg },
	}
	s.served = make(chan error, 1)
	go func() {
		err := s.http.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.served <- err
	}()
	s.logger.Info("api listening", "url", s.urlLocked())
	return nil
}

// URL returns the base URL of the running server, or "" before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Server) urlLocked() string {
	if s.listener == nil {
		return ""
	}
	scheme := "http"
	if s.cfg.TLS {
		scheme = "https"
	}
	return scheme + "://" + s.listener.Addr().String()
}

// CertificatePEM returns the self-signed certificate in use, if TLS is on.
func (s *Server) CertificatePEM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.certPEM
}

// Shutdown stops accepting requests, closes live feeds and waits for the
// serve loop to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	s.cancel()
	s.hub.Close()
	err := s.http.Shutdown(ctx)
	select {
	case serveErr := <-s.served:
		err = multierr.Append(err, serveErr)
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	s.http = nil
	return err
}

// Run starts the server and shuts it down once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle writes the JSON error of a failed handler.
func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			apiErr := toError(err)
			if apiErr.Status >= http.StatusInternalServerError {
				s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			}
			writeError(w, apiErr)
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", clientIP(r), "duration", time.Since(start))
	})
}
