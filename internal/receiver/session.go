package receiver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/1ureka/udpft/internal/util"
)

// ErrInvalidFileName is returned when the announced file name cannot be
// turned into a path inside the output directory.
var ErrInvalidFileName = errors.New("invalid destination file name")

// Session is the receiver's state for the one transfer it is serving.
type Session struct {
	ID       string
	Peer     net.Addr // source of the accepted metadata frame
	FileName string   // as announced by the sender
	Path     string   // where the file is written
	Total    int32

	log     util.Logger
	reasm   *Reassembler
	sink    io.WriteCloser
	written int64
	closed  bool
}

func newSession(peer net.Addr, fileName string, total int32) *Session {
	id := uuid.NewString()[:8]
	return &Session{
		ID:       id,
		Peer:     peer,
		FileName: fileName,
		Total:    total,
		log:      util.Scoped(id),
		reasm:    NewReassembler(total),
	}
}

// open creates the output file inside dir.
func (s *Session) open(dir string) error {
	path, err := OutputPath(dir, s.FileName)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	s.Path = path
	s.sink = f
	return nil
}

// accept feeds one content unit and appends whatever became contiguous.
// It reports whether the unit was new.
func (s *Session) accept(index int32, payload []byte) (bool, error) {
	if s.reasm.Seen(index) {
		return false, nil
	}
	for _, p := range s.reasm.Feed(index, payload) {
		n, err := s.sink.Write(p)
		s.written += int64(n)
		if err != nil {
			return true, fmt.Errorf("failed to write %s at offset %d: %w", s.Path, s.written, err)
		}
	}
	return true, nil
}

// complete reports whether every unit has been written.
func (s *Session) complete() bool {
	return s.reasm.Complete()
}

// finalize closes the output file once.
func (s *Session) finalize() error {
	if s.closed || s.sink == nil {
		return nil
	}
	s.closed = true
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.Path, err)
	}
	return nil
}

// OutputPath maps an announced file name to a path inside dir. Only the last
// path element of the name is kept, so a sender cannot write outside dir.
func OutputPath(dir, name string) (string, error) {
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(name, `\`, "/")))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%q: %w", name, ErrInvalidFileName)
	}
	return filepath.Join(dir, base), nil
}
