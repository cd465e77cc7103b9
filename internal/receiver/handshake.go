package receiver

import (
	"context"

	"github.com/1ureka/udpft/internal/protocol"
	"github.com/1ureka/udpft/internal/util"
)

// handshake waits for the metadata frame and acks every copy of it. It ends
// when the first valid content frame shows that the sender saw the ack; that
// frame is returned so it can be processed as content rather than lost.
//
// A transfer of zero units has no content frame to wait for, so the
// handshake ends right after its metadata is acked.
func (e *Engine) handshake(ctx context.Context) (*Session, *protocol.Frame, error) {
	var s *Session

	for {
		f, err := e.next(ctx)
		if err != nil {
			return nil, nil, err
		}
		if f == nil {
			continue
		}

		if f.Corrupted {
			util.LogDebug("corrupted frame during handshake, requesting resend")
			if err := e.ack(protocol.IndexCorrupted); err != nil {
				return nil, nil, err
			}
			continue
		}

		switch f.Kind {
		case protocol.KindMetadata:
			if s == nil {
				s = newSession(e.lastAddr, f.FileName, f.TotalUnits)
				s.log.Debug("metadata from %s: name=%q units=%d", e.lastAddr, f.FileName, f.TotalUnits)
			} else if f.FileName != s.FileName || f.TotalUnits != s.Total {
				s.log.Warn("ignoring conflicting metadata name=%q units=%d", f.FileName, f.TotalUnits)
			}
			if err := e.ack(protocol.IndexMetadata); err != nil {
				return nil, nil, err
			}
			if s.Total == 0 {
				return s, nil, nil
			}

		case protocol.KindContent:
			if s == nil {
				util.Stats.AddDropped()
				util.LogWarning("dropping unit %d from %s: no metadata received yet", f.Index, e.lastAddr)
				continue
			}
			if e.cfg.RepeatMetaAck {
				if err := e.ack(protocol.IndexMetadata); err != nil {
					return nil, nil, err
				}
			}
			return s, f, nil

		default:
			util.Stats.AddDropped()
		}
	}
}
