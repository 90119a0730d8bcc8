// Package ctlserver implements spec.md §4.6: a local stream-socket server
// accepting operator connections (commands from all of them are executed
// one at a time by the dispatcher), reading line commands,
// writing dispatcher replies, and routing operator signals to the
// Supervisor. Grounded on original_source/taskmasterserver.py (unix
// socket bind/listen/accept, per-connection command loop) and
// kornnellio-gosv's main.go for the signal-aware run loop idiom, using
// Go's net package and goroutine-per-connection instead of Python's
// single-threaded accept loop — each client gets its own goroutine so a
// slow or stuck peer can never block supervision (spec.md §4.6's
// "readiness selection... to avoid blocking on any single peer").
package ctlserver

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/baylakmongush/taskmaster/internal/dispatch"
)

// Server owns the control socket listener and the operator signal loop.
type Server struct {
	socketPath string
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New constructs a Server serving d over a unix socket at socketPath.
func New(socketPath string, d *dispatch.Dispatcher, logger zerolog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		dispatcher: d,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the control socket and accepts connections until
// Shutdown is called or the listener errors out. It does not install signal
// handling itself — call Run for that, or wire signals independently when
// embedding the server.
func (s *Server) ListenAndServe() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if rmErr := os.Remove(s.socketPath); rmErr != nil {
			return fmt.Errorf("removing stale socket %q: %w", s.socketPath, rmErr)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("socket", s.socketPath).Msg("control endpoint listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed by Shutdown
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

// handle services one connection until it closes or issues quit/exit.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		outcome := s.dispatcher.Dispatch(line)

		if next := outcome.AttachNext(); next != nil {
			s.streamAttach(conn, next)
			continue
		}

		if _, err := conn.Write([]byte(outcome.Reply)); err != nil {
			return
		}
		if outcome.Close {
			return
		}
	}
}

// streamAttach implements "attach": it pulls from next and writes to conn
// until the peer disconnects, since the underlying sequence is infinite
// (spec.md §4.3) and cancellation is "the consumer closing its connection".
func (s *Server) streamAttach(conn net.Conn, next func() (string, bool)) {
	for {
		chunk, ok := next()
		if !ok {
			return
		}
		if chunk == "" {
			continue
		}
		if _, err := conn.Write([]byte(chunk)); err != nil {
			return
		}
	}
}

// Run blocks, serving control connections and routing operator signals per
// spec.md §4.6, until SIGTERM/SIGINT/SIGQUIT triggers shutdown. shutdown is
// called once that happens, before Run returns; reload is called on SIGHUP.
func (s *Server) Run(shutdown func(), reload func()) error {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.ListenAndServe() }()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.logger.Info().Msg("SIGHUP received, reloading configuration")
				reload()
			default:
				s.logger.Info().Str("signal", sig.String()).Msg("shutting down")
				shutdown()
				s.Shutdown()
				<-serveErr
				return nil
			}
		case err := <-serveErr:
			return err
		}
	}
}

// Shutdown closes every client connection and the listener, stopping the
// accept loop (spec.md §4.6).
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	os.Remove(s.socketPath)
}
