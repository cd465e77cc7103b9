// Package receiver implements the receiving side of a transfer: it answers
// the metadata handshake, acknowledges every content frame individually, and
// writes the units to the output file in index order no matter how the
// network reorders or duplicates them.
package receiver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/udpft/internal/config"
	"github.com/1ureka/udpft/internal/protocol"
	"github.com/1ureka/udpft/internal/transport"
	"github.com/1ureka/udpft/internal/util"
)

// Result summarizes a finished transfer.
type Result struct {
	SessionID string
	FileName  string
	Path      string
	Units     int32
	Bytes     int64
	Elapsed   time.Duration
}

// Engine serves one transfer at a time on a single socket. It is not safe
// for concurrent use.
type Engine struct {
	conn net.PacketConn
	cfg  config.ReceiverConfig

	onProgress func(written, total int)

	buf      []byte
	lastAddr net.Addr // acks go to whoever sent the most recent frame
}

// New creates a receiver engine reading from conn.
func New(conn net.PacketConn, cfg config.ReceiverConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		conn: conn,
		cfg:  cfg,
		// one spare byte so oversized datagrams are seen as such instead of
		// being silently truncated to a valid-looking frame
		buf: make([]byte, protocol.MaxFrameSize+1),
	}, nil
}

// OnProgress registers a callback invoked whenever units are written.
func (e *Engine) OnProgress(fn func(written, total int)) {
	e.onProgress = fn
}

// Receive runs one complete session: handshake, reassembly, and the optional
// linger period. It returns once the whole file is written and closed, or on
// the first socket or file error, or when ctx is cancelled.
func (e *Engine) Receive(ctx context.Context) (Result, error) {
	stop := transport.UnblockOnDone(ctx, e.conn)
	defer stop()

	started := time.Now()

	s, first, err := e.handshake(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := s.open(e.cfg.OutputDir); err != nil {
		return e.result(s, started), err
	}
	defer s.finalize()

	s.log.Info("receiving %q from %s: %d units -> %s", s.FileName, s.Peer, s.Total, s.Path)

	if first != nil {
		if err := e.handle(s, first); err != nil {
			return e.result(s, started), err
		}
	}

	for !s.complete() {
		f, err := e.next(ctx)
		if err != nil {
			return e.result(s, started), err
		}
		if f == nil {
			continue
		}
		if err := e.handle(s, f); err != nil {
			return e.result(s, started), err
		}
	}

	if err := s.finalize(); err != nil {
		return e.result(s, started), err
	}
	res := e.result(s, started)
	s.log.Info("%s complete: %d bytes in %v", s.Path, res.Bytes, res.Elapsed.Round(time.Millisecond))

	if err := e.linger(ctx, s); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) result(s *Session, started time.Time) Result {
	return Result{
		SessionID: s.ID,
		FileName:  s.FileName,
		Path:      s.Path,
		Units:     s.reasm.Cursor(),
		Bytes:     s.written,
		Elapsed:   time.Since(started),
	}
}

// next reads one datagram and decodes it. Datagrams that are too short or
// malformed are dropped silently and reported as a nil frame.
func (e *Engine) next(ctx context.Context) (*protocol.Frame, error) {
	n, addr, err := e.conn.ReadFrom(e.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to receive frame: %w", err)
	}
	e.lastAddr = addr

	f, err := protocol.Decode(e.buf[:n])
	if err != nil {
		util.Stats.AddDropped()
		util.LogDebug("dropping %d-byte datagram from %s: %v", n, addr, err)
		return nil, nil
	}
	if f.Corrupted {
		util.Stats.AddCorrupted()
	}
	return f, nil
}

// ack answers the sender of the most recent frame.
func (e *Engine) ack(index int32) error {
	if _, err := e.conn.WriteTo(protocol.EncodeAck(index), e.lastAddr); err != nil {
		return fmt.Errorf("failed to send ack %d to %s: %w", index, e.lastAddr, err)
	}
	return nil
}

// handle processes one decoded frame after the handshake.
func (e *Engine) handle(s *Session, f *protocol.Frame) error {
	switch {
	case f.Corrupted:
		s.log.Debug("corrupted frame (claimed index %d)", f.Index)
		return e.ack(protocol.IndexCorrupted)

	case f.Kind == protocol.KindMetadata:
		// a delayed copy of the metadata frame
		return e.ack(protocol.IndexMetadata)

	case f.Kind != protocol.KindContent:
		util.Stats.AddDropped()
		return nil

	case f.Index >= s.Total:
		util.Stats.AddDropped()
		s.log.Warn("dropping unit %d: transfer has only %d units", f.Index, s.Total)
		return nil
	}

	if err := e.ack(f.Index); err != nil {
		return err
	}

	fresh, err := s.accept(f.Index, f.Payload)
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Debug("duplicate unit %d", f.Index)
		return nil
	}

	s.log.Debug("unit %d stored (cursor %d, pending %d)", f.Index, s.reasm.Cursor(), s.reasm.Pending())
	if e.onProgress != nil {
		e.onProgress(int(s.reasm.Cursor()), int(s.Total))
	}
	return nil
}

// linger keeps acknowledging duplicates after completion until no frame has
// arrived for cfg.Linger, so a sender whose final ack was lost can finish.
func (e *Engine) linger(ctx context.Context, s *Session) error {
	if e.cfg.Linger <= 0 {
		return nil
	}
	defer e.conn.SetReadDeadline(time.Time{})

	for {
		if err := e.conn.SetReadDeadline(time.Now().Add(e.cfg.Linger)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		f, err := e.next(ctx)
		if err != nil {
			if ctx.Err() != nil || transport.IsTimeout(err) {
				s.log.Debug("linger period over")
				return nil
			}
			return err
		}
		if f == nil {
			continue
		}
		if err := e.handle(s, f); err != nil {
			return err
		}
	}
}
