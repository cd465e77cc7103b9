// Package sender implements the stop-and-wait sending side of a transfer:
// the metadata handshake followed by one content unit at a time, each
// retransmitted until the receiver acknowledges it.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/1ureka/udpft/internal/config"
	"github.com/1ureka/udpft/internal/protocol"
	"github.com/1ureka/udpft/internal/transport"
	"github.com/1ureka/udpft/internal/util"
)

var (
	// ErrRetriesExhausted is returned when a bounded retry policy runs out
	// before a frame is acknowledged.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrShortSource is returned when the source yields fewer bytes than the
	// size announced in the metadata frame.
	ErrShortSource = errors.New("source ended before announced size")
)

// maxFileSize is the largest file whose unit count fits the int32 index.
const maxFileSize = int64(math.MaxInt32) * protocol.MaxPayloadSize

// Result summarizes a finished transfer.
type Result struct {
	Units       int32
	Bytes       int64
	Retransmits int
	Elapsed     time.Duration
}

// Engine sends one file to one receiver. It is not safe for concurrent use;
// every frame is resolved (acked or abandoned) before the next is sent.
type Engine struct {
	conn   net.PacketConn
	peer   net.Addr
	policy config.RetryPolicy

	onProgress func(acked, total int)

	recvBuf []byte
	unitBuf []byte
}

// New creates an engine that talks to peer over conn.
func New(conn net.PacketConn, peer net.Addr, cfg config.SenderConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		conn:    conn,
		peer:    peer,
		policy:  cfg.Retry,
		recvBuf: make([]byte, protocol.MaxFrameSize),
		unitBuf: make([]byte, protocol.MaxPayloadSize),
	}, nil
}

// OnProgress registers a callback invoked after every acknowledged unit.
func (e *Engine) OnProgress(fn func(acked, total int)) {
	e.onProgress = fn
}

// session is the sender-side transfer state.
type session struct {
	fileName string
	size     int64
	total    int32
	next     int32 // index of the unit being sent
	cursor   int64 // source bytes already acknowledged
	retx     int
}

// Send transfers size bytes read from src, asking the receiver to store them
// as fileName. It blocks until every unit is acknowledged, the retry policy
// gives up, ctx is cancelled, or a socket or source error occurs.
func (e *Engine) Send(ctx context.Context, fileName string, src io.Reader, size int64) (Result, error) {
	if size < 0 || size > maxFileSize {
		return Result{}, fmt.Errorf("file size %d out of range (max %d)", size, maxFileSize)
	}

	stop := transport.UnblockOnDone(ctx, e.conn)
	defer stop()

	started := time.Now()
	s := &session{
		fileName: fileName,
		size:     size,
		total:    protocol.UnitCount(size),
	}

	if err := e.handshake(ctx, s); err != nil {
		return e.result(s, started), err
	}

	for s.next < s.total {
		if err := e.sendUnit(ctx, s, src); err != nil {
			return e.result(s, started), err
		}
		if e.onProgress != nil {
			e.onProgress(int(s.next), int(s.total))
		}
	}

	util.LogDebug("all %d units acknowledged (%d bytes, %d retransmissions)", s.total, s.cursor, s.retx)
	return e.result(s, started), nil
}

func (e *Engine) result(s *session, started time.Time) Result {
	return Result{
		Units:       s.next,
		Bytes:       s.cursor,
		Retransmits: s.retx,
		Elapsed:     time.Since(started),
	}
}

// sendUnit reads the next unit from src once, then delivers that exact frame
// until it is acknowledged.
func (e *Engine) sendUnit(ctx context.Context, s *session, src io.Reader) error {
	want := protocol.UnitLen(s.size, s.next)

	n, err := io.ReadFull(src, e.unitBuf[:want])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("unit %d: read %d of %d bytes at offset %d: %w", s.next, n, want, s.cursor, ErrShortSource)
		}
		return fmt.Errorf("failed to read source at offset %d: %w", s.cursor, err)
	}

	frame, err := protocol.EncodeContent(s.next, e.unitBuf[:n])
	if err != nil {
		return err
	}

	retx, err := e.deliver(ctx, frame, s.next)
	s.retx += retx
	if err != nil {
		return err
	}

	s.cursor += int64(n)
	s.next++
	return nil
}

// ackOutcome is what a single wait for an acknowledgment produced.
type ackOutcome uint8

const (
	outcomeAcked     ackOutcome = iota
	outcomeTimeout              // nothing usable arrived in time
	outcomeCorrupted            // the ack itself failed its checksum
	outcomeNack                 // the receiver reported our frame as corrupted
	outcomeMismatch             // an ack for some other index
)

func (o ackOutcome) String() string {
	switch o {
	case outcomeAcked:
		return "acked"
	case outcomeTimeout:
		return "timeout"
	case outcomeCorrupted:
		return "corrupted ack"
	case outcomeNack:
		return "receiver saw corruption"
	case outcomeMismatch:
		return "ack for another index"
	default:
		return "unknown"
	}
}

// deliver transmits frame and waits for an ack carrying index, resending the
// identical bytes on every failed wait. It returns the number of
// retransmissions performed.
func (e *Engine) deliver(ctx context.Context, frame []byte, index int32) (int, error) {
	timeout := e.policy.BaseTimeout
	retx := 0

	for {
		if err := ctx.Err(); err != nil {
			return retx, err
		}

		if _, err := e.conn.WriteTo(frame, e.peer); err != nil {
			return retx, fmt.Errorf("failed to send frame %d to %s: %w", index, e.peer, err)
		}

		outcome, err := e.awaitAck(ctx, index, timeout)
		if err != nil {
			return retx, err
		}
		if outcome == outcomeAcked {
			util.LogDebug("[unit %d] acked", index)
			return retx, nil
		}

		if !e.policy.Infinite() && retx >= e.policy.MaxRetries {
			return retx, fmt.Errorf("frame %d: no ack after %d retransmissions: %w", index, retx, ErrRetriesExhausted)
		}

		util.LogDebug("[unit %d] %s after %v, resending", index, outcome, timeout)
		util.Stats.AddRetransmit()
		retx++
		timeout = e.policy.Next(timeout)
	}
}

// awaitAck reads frames until an ack arrives or timeout elapses. Frames that
// are too short, malformed, or not acks are ignored without extending the
// deadline.
func (e *Engine) awaitAck(ctx context.Context, index int32, timeout time.Duration) (ackOutcome, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return outcomeTimeout, fmt.Errorf("failed to set read deadline: %w", err)
	}

	for {
		n, _, err := e.conn.ReadFrom(e.recvBuf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcomeTimeout, ctxErr
			}
			if transport.IsTimeout(err) {
				return outcomeTimeout, nil
			}
			return outcomeTimeout, fmt.Errorf("failed to receive ack: %w", err)
		}

		f, err := protocol.Decode(e.recvBuf[:n])
		if err != nil {
			util.Stats.AddDropped()
			util.LogDebug("[unit %d] ignoring reply: %v", index, err)
			continue
		}

		switch {
		case f.Corrupted:
			util.Stats.AddCorrupted()
			return outcomeCorrupted, nil
		case f.Kind != protocol.KindAck:
			util.Stats.AddDropped()
			util.LogDebug("[unit %d] ignoring %s frame", index, f.Kind)
			continue
		case f.Index == index:
			return outcomeAcked, nil
		case f.Index == protocol.IndexCorrupted:
			return outcomeNack, nil
		default:
			return outcomeMismatch, nil
		}
	}
}
