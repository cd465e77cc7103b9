package sender

import (
	"context"
	"fmt"

	"github.com/1ureka/udpft/internal/protocol"
	"github.com/1ureka/udpft/internal/util"
)

// handshake announces the file name and unit count, resending the metadata
// frame until the receiver acks it with IndexMetadata. Content transfer only
// starts after that ack, so the receiver never has to guess the unit count.
func (e *Engine) handshake(ctx context.Context, s *session) error {
	frame, err := protocol.EncodeMetadata(s.fileName, s.total)
	if err != nil {
		return fmt.Errorf("failed to build metadata frame: %w", err)
	}

	util.LogDebug("sending metadata: name=%q units=%d", s.fileName, s.total)

	retx, err := e.deliver(ctx, frame, protocol.IndexMetadata)
	s.retx += retx
	if err != nil {
		return fmt.Errorf("metadata handshake: %w", err)
	}

	util.LogInfo("receiver %s accepted %q (%d units)", e.peer, s.fileName, s.total)
	return nil
}
