package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/atmx/market-feed/internal/workerpool"
)

type testEnv struct {
	server *Server
	pool   *workerpool.Pool
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func newTestEnv(t *testing.T, poolSize int, configure func(*Server)) *testEnv {
	t.Helper()
	pool, err := workerpool.New(poolSize, nil)
	if err != nil {
		t.Fatalf("workerpool.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(Config{Lines: 3, LineDelay: 10 * time.Millisecond}, pool, nil)
	if configure != nil {
		configure(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	env := &testEnv{server: srv, pool: pool, addr: srv.Addr().String(), cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
		pool.Close()
	})
	return env
}

func request(t *testing.T, addr, payload string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, err := Request(ctx, addr, []byte(payload), 0)
	if err != nil {
		t.Fatalf("Request(%q): %v", payload, err)
	}
	return lines
}

func TestServer_PingLines(t *testing.T) {
	env := newTestEnv(t, 2, nil)

	lines := request(t, env.addr, "PING")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}
	for i, line := range lines {
		want := fmt.Sprintf("PING-> line::%d<p>", i)
		if line != want {
			t.Errorf("line %d: expected %q, got %q", i, want, line)
		}
	}
}

func TestServer_ClosesAfterResponse(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	conn, err := net.Dial("tcp", env.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte("PING")); err != nil {
		t.Fatalf("write: %v", err)
	}

	body, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("expected clean EOF, got %v", err)
	}
	want := "PING-> line::0<p>\nPING-> line::1<p>\nPING-> line::2<p>\n"
	if string(body) != want {
		t.Errorf("expected %q, got %q", want, body)
	}
}

func TestServer_MoreClientsThanWorkers(t *testing.T) {
	env := newTestEnv(t, 2, nil)

	const clients = 6
	var wg sync.WaitGroup
	results := make([][]string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			lines, err := Request(ctx, env.addr, []byte(fmt.Sprintf("REQ%d", i)), 0)
			if err != nil {
				t.Errorf("client %d: %v", i, err)
				return
			}
			results[i] = lines
		}(i)
	}
	wg.Wait()

	for i, lines := range results {
		if len(lines) != 3 {
			t.Errorf("client %d: expected 3 lines, got %d", i, len(lines))
			continue
		}
		if want := fmt.Sprintf("REQ%d-> line::2<p>", i); lines[2] != want {
			t.Errorf("client %d: expected %q, got %q", i, want, lines[2])
		}
	}
}

func TestServer_ReadFaultIsolated(t *testing.T) {
	faults := make(chan *ConnectionFault, 1)
	env := newTestEnv(t, 1, func(s *Server) {
		s.OnFault = func(f *ConnectionFault) { faults <- f }
	})

	// Connect and hang up without sending.
	conn, err := net.Dial("tcp", env.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	select {
	case f := <-faults:
		if f.Op != "read" {
			t.Errorf("expected read fault, got %q", f.Op)
		}
		if f.ConnID == "" {
			t.Error("expected a connection id")
		}
		if !errors.Is(f, f.Err) {
			t.Error("expected fault to unwrap to its cause")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fault")
	}

	// The server keeps serving.
	if lines := request(t, env.addr, "PING"); len(lines) != 3 {
		t.Errorf("expected 3 lines after fault, got %d", len(lines))
	}
}

func TestServer_PoolClosedDropsConnection(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.pool.Close()

	// The connection is dropped unanswered; a reset is acceptable.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, _ := Request(ctx, env.addr, []byte("PING"), 0)
	if len(lines) != 0 {
		t.Errorf("expected no lines from a closed pool, got %q", lines)
	}

	// Accepting continues until the context ends.
	conn, err := net.DialTimeout("tcp", env.addr, time.Second)
	if err != nil {
		t.Fatalf("expected listener to stay open: %v", err)
	}
	conn.Close()
}

// flakyListener fails the first n Accept calls with EMFILE.
type flakyListener struct {
	net.Listener
	mu    sync.Mutex
	fails int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServer_AcceptErrorsRetried(t *testing.T) {
	pool, err := workerpool.New(1, nil)
	if err != nil {
		t.Fatalf("workerpool.New: %v", err)
	}
	defer pool.Close()
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln := &flakyListener{Listener: inner, fails: 3}
	srv := New(Config{Lines: 3, LineDelay: 0}, pool, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	if lines := request(t, srv.Addr().String(), "PING"); len(lines) != 3 {
		t.Errorf("expected 3 lines after accept errors, got %d", len(lines))
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected nil error on cancel, got %v", err)
	}
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0)
	if d != minAcceptBackoff {
		t.Fatalf("first backoff = %v, want %v", d, minAcceptBackoff)
	}
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	if d != maxAcceptBackoff {
		t.Errorf("backoff not capped: %v", d)
	}
}

func TestServer_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.cancel()

	select {
	case err := <-env.done:
		if err != nil {
			t.Errorf("expected nil error on cancel, got %v", err)
		}
		env.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := net.DialTimeout("tcp", env.addr, time.Second); err == nil {
		t.Error("expected listener to be closed")
	}
}

func TestFormatLine(t *testing.T) {
	got := string(FormatLine([]byte("EUR="), 7))
	if got != "EUR=-> line::7<p>\n" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Addr != "127.0.0.1:7878" || cfg.Lines != 3 || cfg.BufferSize != 1024 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LineDelay != 0 {
		t.Errorf("zero delay should stay zero, got %v", cfg.LineDelay)
	}
}
