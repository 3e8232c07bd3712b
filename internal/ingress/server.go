// Package ingress implements the TCP listener external producers connect
// to: per connection, it frames lines, parses them into IngressMessages,
// and hands each to a Dispatcher.
package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"busd/internal/domain"
	"busd/internal/wire"
)

// DispatchFunc adapts dispatch.Dispatcher.Dispatch (which returns a
// concrete dispatch.Result the server never needs to inspect) to the
// narrow signature the server needs, without internal/ingress importing
// internal/dispatch — the server only ever needs to *invoke* dispatch,
// per spec.md §4.6.
type DispatchFunc func(ctx context.Context, msg domain.IngressMessage)

// Config configures an ingress Server. Address defaults are resolved by
// the caller (internal/busconfig); the server itself requires an address.
type Config struct {
	Address string
}

// Server is grounded on the teacher's ingest/socket.Server: it owns the
// net.Listener, runs one accept loop, tracks connection goroutines with a
// sync.WaitGroup, and closes idempotently via atomic.Bool.
// Unlike the teacher's length-prefixed request/response server, each
// connection here runs the simple read-parse-dispatch loop from spec.md
// §4.6 with no reply ever written back to the ingress producer.
type Server struct {
	cfg      Config
	dispatch DispatchFunc
	logger   *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	addr   string
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New constructs an ingress Server. dispatch is invoked once per parsed
// line; it must not block indefinitely since it runs on the connection's
// own goroutine and gates that connection's next read, per spec.md §5's
// FIFO dispatch-initiation guarantee.
func New(cfg Config, dispatch DispatchFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, dispatch: dispatch, logger: logger}
}

// Addr returns the address the listener is bound to, once Start has
// succeeded. Safe to call concurrently.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and runs the accept loop until ctx is
// cancelled or a non-temporary accept error occurs. It returns nil on a
// clean shutdown triggered by ctx, or the accept error otherwise. A bind
// failure is returned immediately and is fatal to the caller, per
// spec.md §7.
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

	s.logger.Info("ingress listening", slog.String("address", s.addr))
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
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections. In-flight connection workers keep
// running until their client disconnects or their next I/O fails, per
// spec.md §5; Wait can be used to block until they drain.
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

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	framer := wire.NewFramer(conn)
	for {
		line, err := framer.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if errors.Is(err, wire.ErrProtocolViolation) {
					s.logger.Warn("ingress connection closed: protocol violation",
						slog.String("remote", conn.RemoteAddr().String()))
				} else {
					s.logger.Warn("ingress connection closed: read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.Any("error", err))
				}
			}
			return
		}
		if line == "" {
			continue
		}

		msg, err := wire.ParseIngressLine(line)
		if err != nil {
			s.logger.Info("ingress parse error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("line", line),
				slog.Any("error", err))
			continue
		}

		s.dispatch(ctx, msg)
	}
}
