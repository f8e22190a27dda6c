// Package exchange implements a line-oriented TCP responder that hands each
// accepted connection to a worker pool.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/market-feed/internal/metrics"
	"github.com/atmx/market-feed/internal/workerpool"
)

// Config holds exchange server settings.
type Config struct {
	Addr       string
	Lines      int
	LineDelay  time.Duration
	BufferSize int
}

// DefaultConfig returns the loopback defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1:7878",
		Lines:      3,
		LineDelay:  time.Second,
		BufferSize: 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Lines <= 0 {
		c.Lines = d.Lines
	}
	if c.LineDelay < 0 {
		c.LineDelay = 0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}

// ConnectionFault is an I/O failure on a single connection.
type ConnectionFault struct {
	Op     string // "read", "write", "shutdown"
	ConnID string
	Err    error
}

func (f *ConnectionFault) Error() string {
	return fmt.Sprintf("exchange: connection %s: %s: %v", f.ConnID, f.Op, f.Err)
}

func (f *ConnectionFault) Unwrap() error { return f.Err }

// FaultHandler observes connection faults. It runs on the worker goroutine.
type FaultHandler func(*ConnectionFault)

// Server accepts connections and answers each with Config.Lines lines.
type Server struct {
	cfg     Config
	pool    *workerpool.Pool
	logger  *slog.Logger
	OnFault FaultHandler

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New creates a server. The pool is shared, not owned: the caller closes it.
func New(cfg Config, pool *workerpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		pool:   pool,
		logger: logger.With("component", "exchange"),
		ready:  make(chan struct{}),
	}
}

// ListenAndServe binds Config.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("exchange: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done or the listener fails. The listener
// is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("exchange: server already serving")
	}
	s.listener = ln
	close(s.ready)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	s.logger.Info("exchange listening", "addr", ln.Addr().String())
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("exchange shutting down")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("exchange: accept: %w", err)
			}
			// Transient failures such as EMFILE: back off and keep accepting.
			backoff = nextBackoff(backoff)
			metrics.ExchangeFaults.WithLabelValues("accept").Inc()
			s.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				s.logger.Info("exchange shutting down")
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		metrics.ExchangeConnections.Inc()

		if err := s.pool.Execute(func() { s.handle(conn) }); err != nil {
			// Pool shutting down: drop this connection, keep accepting until ctx ends.
			s.logger.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
		}
	}
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(2*d, maxAcceptBackoff)
}

// Addr returns the bound address, blocking until Serve has started.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

func (s *Server) handle(conn net.Conn) {
	start := time.Now()
	id := uuid.NewString()
	log := s.logger.With("conn", id, "remote", conn.RemoteAddr().String())
	defer func() {
		conn.Close()
		metrics.ExchangeHandleDuration.Observe(time.Since(start).Seconds())
	}()

	if err := s.respond(conn, id, log); err != nil {
		var fault *ConnectionFault
		if errors.As(err, &fault) {
			metrics.ExchangeFaults.WithLabelValues(fault.Op).Inc()
			if s.OnFault != nil {
				s.OnFault(fault)
			}
		}
		log.Warn("connection fault", "error", err)
		return
	}
	log.Debug("connection served", "duration", time.Since(start))
}

func (s *Server) respond(conn net.Conn, id string, log *slog.Logger) error {
	buf := make([]byte, s.cfg.BufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return &ConnectionFault{Op: "read", ConnID: id, Err: err}
	}
	request := buf[:n]
	log.Debug("request received", "bytes", n)

	for i := 0; i < s.cfg.Lines; i++ {
		if i > 0 && s.cfg.LineDelay > 0 {
			time.Sleep(s.cfg.LineDelay)
		}
		if _, err := conn.Write(FormatLine(request, i)); err != nil {
			return &ConnectionFault{Op: "write", ConnID: id, Err: err}
		}
	}

	if err := shutdown(conn); err != nil {
		return &ConnectionFault{Op: "shutdown", ConnID: id, Err: err}
	}
	return nil
}

// FormatLine renders response line n for request.
func FormatLine(request []byte, n int) []byte {
	return []byte(fmt.Sprintf("%s-> line::%d<p>\n", request, n))
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// shutdown closes both directions where the connection supports it.
func shutdown(conn net.Conn) error {
	hc, ok := conn.(halfCloser)
	if !ok {
		return nil
	}
	rerr := hc.CloseRead()
	werr := hc.CloseWrite()
	return errors.Join(rerr, werr)
}
