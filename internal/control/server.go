package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"busd/internal/wire"
)

// Config configures a control Server. Address defaults are resolved by
// the caller (internal/busconfig).
type Config struct {
	Address string
}

// Server is the control-plane counterpart of ingress.Server: same
// accept-loop and idempotent-Close shape grounded on the teacher's
// ingest/socket.Server, but each connection writes a textual reply for
// every line it reads instead of the ingress side's write-nothing loop,
// per spec.md §4.7.
type Server struct {
	cfg         Config
	interpreter *Interpreter
	logger      *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	addr   string
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New constructs a control Server bound to interpreter.
func New(cfg Config, interpreter *Interpreter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, interpreter: interpreter, logger: logger}
}

// Addr returns the address the listener is bound to, once Start has
// succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and runs the accept loop until ctx is
// cancelled or a non-temporary accept error occurs.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.logger.Info("control listening", slog.String("address", s.addr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// Wait blocks until every connection worker has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	framer := wire.NewFramer(conn)
	w := bufio.NewWriter(conn)
	remote := conn.RemoteAddr().String()

	for {
		line, err := framer.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if errors.Is(err, wire.ErrProtocolViolation) {
					s.logger.Warn("control connection closed: protocol violation", slog.String("remote", remote))
				} else {
					s.logger.Warn("control connection closed: read error", slog.String("remote", remote), slog.Any("error", err))
				}
			}
			return
		}
		if line == "" {
			continue
		}

		replies, err := s.interpreter.Eval(line)
		for _, reply := range replies {
			if _, werr := w.WriteString(reply + "\n"); werr != nil {
				s.logger.Warn("control connection closed: write error", slog.String("remote", remote), slog.Any("error", werr))
				return
			}
		}
		if ferr := w.Flush(); ferr != nil {
			s.logger.Warn("control connection closed: flush error", slog.String("remote", remote), slog.Any("error", ferr))
			return
		}
		if IsQuit(err) {
			return
		}
	}
}
