// Package netio implements the UDP socket abstraction the relay engine is
// built on: bind, send-to, and a receive that reports timeout distinctly
// from a datagram so that inactivity timers can be observed on the same
// loop that reads traffic.
package netio

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrTimeout is returned by Socket.Recv when no datagram arrived within
// the requested deadline. It is a normal scheduling tick, never logged as
// an error by callers.
var ErrTimeout = errors.New("netio: recv timeout")

// Socket wraps a bound UDP connection.
type Socket struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

// Bind opens a UDP socket on the given local IP and port. SO_REUSEADDR is
// set so the engine can rebind immediately after a restart, the same way
// the reference listeners this engine is modeled on do.
func Bind(ip net.IP, port int) (*Socket, error) {
	laddr := &net.UDPAddr{IP: ip, Port: port}

	lc := reuseAddrListenConfig()
	pc, err := lc.ListenPacket(nil, "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("netio: bind %s: %w", laddr, err)
	}

	conn := pc.(*net.UDPConn)
	return &Socket{conn: conn, addr: conn.LocalAddr().(*net.UDPAddr)}, nil
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.addr
}

// Recv reads one datagram into buf, waiting at most timeout. It returns
// ErrTimeout (distinct from any other error) when the deadline elapses
// with nothing received.
func (s *Socket) Recv(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, fmt.Errorf("netio: set read deadline: %w", err)
	}

	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrTimeout
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// Send writes a datagram to the given remote address.
func (s *Socket) Send(data []byte, to *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, to)
	return err
}

// Close closes the underlying connection, unblocking any in-flight Recv.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// IsTimeout reports whether err is the distinguished timeout sentinel,
// as opposed to a transient or fatal I/O error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
