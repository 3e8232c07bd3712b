// Package downstream implements the connect/write/close TCP sender used by
// the dispatcher to deliver one payload to one subscriber.
package downstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"busd/internal/domain"
)

var (
	ErrConnectFailed = errors.New("downstream: connect failed")
	ErrWriteFailed   = errors.New("downstream: write failed")
	ErrTimeout       = errors.New("downstream: timeout")
)

// Sender delivers one payload per call with no connection reuse, grounded
// on the teacher's raftengine tcpTransport.sender goroutine: dial with a
// bounded timeout, set a write deadline, write, close unconditionally.
type Sender struct {
	// Dial defaults to (&net.Dialer{}).DialContext; overridable in tests.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewSender returns a Sender that dials real TCP connections.
func NewSender() *Sender {
	return &Sender{Dial: (&net.Dialer{}).DialContext}
}

// Send opens a TCP connection to endpoint.Address, writes payload followed
// by '\n' with a write deadline of timeout, then closes the connection.
// Each call is independent; there is no connection pooling, per spec.md §4.3.
func (s *Sender) Send(ctx context.Context, endpoint domain.ConsumerEndpoint, payload string, timeout time.Duration) error {
	dial := s.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(dialCtx, "tcp", endpoint.Address)
	if err != nil {
		if dialCtx.Err() != nil {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, endpoint.Address, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, endpoint.Address, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, endpoint.Address, err)
	}
	if _, err := conn.Write([]byte(payload + "\n")); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, endpoint.Address, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, endpoint.Address, err)
	}
	return nil
}
