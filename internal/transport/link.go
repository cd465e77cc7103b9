package transport

import (
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"time"
)

const linkInboxSize = 1024

// LinkOptions describes how an in-memory link misbehaves. The zero value is
// a perfect, ordered link.
type LinkOptions struct {
	MaxDelay  time.Duration // each datagram is delayed by a random amount in [0, MaxDelay)
	Loss      float64       // probability a datagram is dropped
	Corrupt   float64       // probability one random byte of a datagram is flipped
	Duplicate float64       // probability a datagram is delivered twice
	Seed      uint64

	// Intercept, when set, sees every datagram after the random faults and
	// returns the datagrams to actually deliver (nil drops it).
	Intercept func(from net.Addr, data []byte) [][]byte
}

// Link is a pair of in-memory datagram endpoints. Datagrams written on one
// side arrive on the other after the configured faults, so a linked pair
// behaves like two UDP sockets on a bad network.
type Link struct {
	A, B *Endpoint

	opts LinkOptions
	mu   sync.Mutex
	rng  *rand.Rand
}

// NewLink creates a linked endpoint pair named "a" and "b".
func NewLink(opts LinkOptions) *Link {
	l := &Link{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15)),
	}
	l.A = newEndpoint(l, "a")
	l.B = newEndpoint(l, "b")
	l.A.peer = l.B
	l.B.peer = l.A
	return l
}

// Close closes both endpoints.
func (l *Link) Close() {
	l.A.Close()
	l.B.Close()
}

func (l *Link) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < p
}

func (l *Link) delay() time.Duration {
	if l.opts.MaxDelay <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.rng.Int64N(int64(l.opts.MaxDelay)))
}

func (l *Link) corrupt(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.rng.IntN(len(data))
	data[i] ^= byte(1 + l.rng.IntN(255))
}

// carry applies the link's faults to one datagram travelling from src to dst.
func (l *Link) carry(src, dst *Endpoint, data []byte) {
	if l.roll(l.opts.Loss) {
		return
	}
	if len(data) > 0 && l.roll(l.opts.Corrupt) {
		l.corrupt(data)
	}

	out := [][]byte{data}
	if l.roll(l.opts.Duplicate) {
		out = append(out, append([]byte(nil), data...))
	}
	if l.opts.Intercept != nil {
		var kept [][]byte
		for _, d := range out {
			kept = append(kept, l.opts.Intercept(src.addr, d)...)
		}
		out = kept
	}

	for _, d := range out {
		wait := l.delay()
		if wait == 0 {
			dst.enqueue(datagram{data: d, from: src.addr})
			continue
		}
		go func(d []byte) {
			select {
			case <-time.After(wait):
				dst.enqueue(datagram{data: d, from: src.addr})
			case <-dst.closed:
			case <-src.closed:
			}
		}(d)
	}
}

type datagram struct {
	data []byte
	from net.Addr
}

// linkAddr names an endpoint.
type linkAddr string

func (a linkAddr) Network() string { return "mem" }
func (a linkAddr) String() string  { return string(a) }

// Endpoint is one side of a Link. It implements net.PacketConn; the address
// passed to WriteTo is ignored because an endpoint only has one peer.
type Endpoint struct {
	link *Link
	peer *Endpoint
	addr linkAddr

	inbox     chan datagram
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	deadline time.Time
	wake     chan struct{} // closed and replaced whenever the deadline changes
}

func newEndpoint(l *Link, name string) *Endpoint {
	return &Endpoint{
		link:   l,
		addr:   linkAddr(name),
		inbox:  make(chan datagram, linkInboxSize),
		closed: make(chan struct{}),
		wake:   make(chan struct{}),
	}
}

// enqueue delivers a datagram, dropping it when the inbox is full or the
// endpoint is closed, as a socket would.
func (e *Endpoint) enqueue(d datagram) {
	select {
	case <-e.closed:
		return
	default:
	}
	select {
	case e.inbox <- d:
	default:
	}
}

// Inject places a raw datagram in this endpoint's inbox as if it came from
// the peer, bypassing the link's faults.
func (e *Endpoint) Inject(data []byte) {
	e.enqueue(datagram{data: append([]byte(nil), data...), from: e.peer.addr})
}

// ReadFrom blocks until a datagram arrives, the read deadline passes, or the
// endpoint is closed. Datagrams longer than p are truncated.
func (e *Endpoint) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		e.mu.Lock()
		deadline, wake := e.deadline, e.wake
		e.mu.Unlock()

		var timer *time.Timer
		var timeout <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, nil, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		n, from, again, err := e.await(p, timeout, wake)
		if timer != nil {
			timer.Stop()
		}
		if !again {
			return n, from, err
		}
	}
}

func (e *Endpoint) await(p []byte, timeout <-chan time.Time, wake <-chan struct{}) (int, net.Addr, bool, error) {
	select {
	case d := <-e.inbox:
		return copy(p, d.data), d.from, false, nil
	case <-timeout:
		return 0, nil, false, os.ErrDeadlineExceeded
	case <-wake:
		return 0, nil, true, nil
	case <-e.closed:
		return 0, nil, false, net.ErrClosed
	}
}

// WriteTo sends p to the peer.
func (e *Endpoint) WriteTo(p []byte, _ net.Addr) (int, error) {
	select {
	case <-e.closed:
		return 0, net.ErrClosed
	default:
	}
	e.link.carry(e, e.peer, append([]byte(nil), p...))
	return len(p), nil
}

// Close shuts the endpoint down. Safe to call multiple times.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *Endpoint) LocalAddr() net.Addr { return e.addr }

func (e *Endpoint) SetDeadline(t time.Time) error { return e.SetReadDeadline(t) }

func (e *Endpoint) SetReadDeadline(t time.Time) error {
	e.mu.Lock()
	e.deadline = t
	close(e.wake)
	e.wake = make(chan struct{})
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) SetWriteDeadline(time.Time) error { return nil }

var _ net.PacketConn = (*Endpoint)(nil)
