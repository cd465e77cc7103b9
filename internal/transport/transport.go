// Package transport opens the UDP sockets used by both roles and wraps them
// with traffic accounting. The reliability engines only see net.PacketConn.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/1ureka/udpft/internal/util"
)

const (
	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024

	// DefaultSocketBuffer is requested for both directions on every socket.
	DefaultSocketBuffer = 1024 * 1024
)

// Conn is a net.PacketConn that feeds every datagram through util.Stats.
type Conn struct {
	net.PacketConn
}

// Counted wraps pc so its traffic shows up in util.Stats.
func Counted(pc net.PacketConn) *Conn {
	return &Conn{PacketConn: pc}
}

// ReadFrom reads one datagram and records it.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if n > 0 {
		util.Stats.AddRecv(n)
	}
	return n, addr, err
}

// WriteTo writes one datagram and records it.
func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	n, err := c.PacketConn.WriteTo(p, addr)
	if err == nil {
		util.Stats.AddSent(n)
	}
	return n, err
}

// Listen binds a UDP socket on all interfaces at port. Port 0 picks an
// ephemeral port, which is what the sender uses.
func Listen(port int) (*Conn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP port %d: %w", port, err)
	}

	if err := tuneBuffers(conn, DefaultSocketBuffer, DefaultSocketBuffer); err != nil {
		util.LogDebug("socket buffer tuning skipped: %v", err)
	}

	return Counted(conn), nil
}

// Resolve turns a host and port into a UDP address.
func Resolve(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s:%d: %w", host, port, err)
	}
	return addr, nil
}

// UnblockOnDone arranges for any pending or future read on pc to return as
// soon as ctx is cancelled. The returned stop function releases the hook.
func UnblockOnDone(ctx context.Context, pc net.PacketConn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		pc.SetReadDeadline(time.Now())
	})
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// tuneBuffers requests larger kernel socket buffers, clamped to a sane range.
// Failure is not fatal: the kernel may cap or refuse the request.
func tuneBuffers(conn *net.UDPConn, r, w int) error {
	return errors.Join(
		conn.SetReadBuffer(clampUDPBuffer(r)),
		conn.SetWriteBuffer(clampUDPBuffer(w)),
	)
}

func clampUDPBuffer(n int) int {
	if n < minUDPBuffer {
		return minUDPBuffer
	}
	if n > maxUDPBuffer {
		return maxUDPBuffer
	}
	return n
}
