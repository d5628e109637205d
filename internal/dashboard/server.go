package dashboard

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/ota"
	"github.com/muurk/devboot/internal/status"
)

const (
	// DefaultAddr is where the dashboard listens.
	DefaultAddr = ":80"

	// DefaultKeepAlive is the SSE keep-alive period.
	DefaultKeepAlive = 10 * time.Second

	// DefaultMaxImageSize bounds a firmware upload.
	DefaultMaxImageSize = 8 << 20
)

//go:embed assets
var assets embed.FS

// Config holds the dashboard configuration
type Config struct {
	Addr      string
	KeepAlive time.Duration

	Status *status.Status

	// Store receives settings updates. Nil disables the settings endpoints.
	Store credentials.ReadWriter

	// NewOTA opens an OTA manager for one firmware upload. Nil disables
	// /api/ota.
	NewOTA       func() (*ota.Manager, error)
	MaxImageSize int64

	Version string
}

// Server is the device dashboard: a status page, a server-sent event stream
// of status changes, an echo WebSocket and the settings endpoints.
type Server struct {
	config  Config
	handler http.Handler
	http    *http.Server
	upgrade sync.Mutex

	mu       sync.Mutex
	listener net.Listener
	streams  int
}

// New creates a new Server instance
func New(config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = DefaultKeepAlive
	}
	if config.Status == nil {
		config.Status = status.New()
	}
	if config.MaxImageSize <= 0 {
		config.MaxImageSize = DefaultMaxImageSize
	}

	s := &Server{config: config}
	s.handler = s.routes()
	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	static, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /", http.FileServerFS(static))
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/wifi", s.handleWiFi)
	mux.HandleFunc("POST /api/mqtt", s.handleMQTT)
	mux.HandleFunc("POST /api/ota", s.handleOTA)
	return logRequests(mux)
}

// Handler returns the dashboard's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the configured address. Calling it again returns the
// existing address.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	logging.Info("Dashboard listening", zap.Stringer("addr", listener.Addr()))
	return listener.Addr(), nil
}

// Serve serves on the bound listener, binding first if needed, until ctx
// is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down dashboard...")
	if err := s.http.Shutdown(ctx); err != nil {
		logging.Warn("Dashboard shutdown timeout, forcing close", zap.Error(err))
		return s.http.Close()
	}
	return nil
}

// ActiveStreams returns the number of connected event streams
func (s *Server) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status)
	})
}
