package receiver

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/udpft/internal/config"
	"github.com/1ureka/udpft/internal/protocol"
	"github.com/1ureka/udpft/internal/transport"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// harness runs a receiver engine on one end of a perfect in-memory link.
// Frames are injected straight into the receiver's inbox; acks come out on
// the peer endpoint.
type harness struct {
	t    *testing.T
	dir  string
	link *transport.Link
	done chan outcome

	cancel context.CancelFunc
}

type outcome struct {
	res Result
	err error
}

func startReceiver(t *testing.T, cfg config.ReceiverConfig) *harness {
	t.Helper()

	dir := t.TempDir()
	cfg.OutputDir = dir

	link := transport.NewLink(transport.LinkOptions{})
	eng, err := New(link.B, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h := &harness{t: t, dir: dir, link: link, done: make(chan outcome, 1), cancel: cancel}
	t.Cleanup(func() {
		cancel()
		link.Close()
	})

	go func() {
		res, err := eng.Receive(ctx)
		h.done <- outcome{res, err}
	}()
	return h
}

func (h *harness) inject(frames ...[]byte) {
	for _, f := range frames {
		h.link.B.Inject(f)
	}
}

// acks reads exactly n acks, failing if any is missing.
func (h *harness) acks(n int) []int32 {
	h.t.Helper()
	buf := make([]byte, protocol.MaxFrameSize)
	var got []int32
	for len(got) < n {
		h.link.A.SetReadDeadline(time.Now().Add(2 * time.Second))
		m, _, err := h.link.A.ReadFrom(buf)
		if err != nil {
			h.t.Fatalf("waiting for ack %d of %d (got %v): %v", len(got)+1, n, got, err)
		}
		f, err := protocol.Decode(buf[:m])
		if err != nil || f.Corrupted || f.Kind != protocol.KindAck {
			h.t.Fatalf("receiver sent a non-ack frame: %+v %v", f, err)
		}
		got = append(got, f.Index)
	}
	return got
}

// noMoreAcks fails if another ack shows up within a short window.
func (h *harness) noMoreAcks() {
	h.t.Helper()
	buf := make([]byte, protocol.MaxFrameSize)
	h.link.A.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if n, _, err := h.link.A.ReadFrom(buf); err == nil {
		f, _ := protocol.Decode(buf[:n])
		h.t.Fatalf("unexpected extra frame: %+v", f)
	}
}

func (h *harness) wait() (Result, error) {
	h.t.Helper()
	select {
	case o := <-h.done:
		return o.res, o.err
	case <-time.After(5 * time.Second):
		h.t.Fatal("receiver did not finish")
		return Result{}, nil
	}
}

func (h *harness) output(name string) []byte {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, name))
	if err != nil {
		h.t.Fatalf("read output: %v", err)
	}
	return data
}

func metaFrame(t *testing.T, name string, units int32) []byte {
	t.Helper()
	f, err := protocol.EncodeMetadata(name, units)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	return f
}

func contentFrame(t *testing.T, index int32, payload []byte) []byte {
	t.Helper()
	f, err := protocol.EncodeContent(index, payload)
	if err != nil {
		t.Fatalf("EncodeContent: %v", err)
	}
	return f
}

func corrupt(frame []byte) []byte {
	out := append([]byte(nil), frame...)
	out[len(out)-1] ^= 0x5A
	return out
}

// makeTestData generates deterministic test data of the given size.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

// splitUnits cuts data into protocol-sized units.
func splitUnits(data []byte) [][]byte {
	var units [][]byte
	for off := 0; off < len(data); off += protocol.MaxPayloadSize {
		end := min(off+protocol.MaxPayloadSize, len(data))
		units = append(units, data[off:end])
	}
	return units
}

func equalAcks(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestScenarioReorderedWithCorruption replays a 1050-byte transfer whose
// units arrive as [meta, 2, 0, 1(corrupted), 1].
func TestScenarioReorderedWithCorruption(t *testing.T) {
	data := makeTestData(1050, 0x11)
	units := splitUnits(data)
	if len(units) != 3 || len(units[0]) != 512 || len(units[1]) != 512 || len(units[2]) != 26 {
		t.Fatalf("unexpected unit split: %d units", len(units))
	}

	h := startReceiver(t, config.DefaultReceiverConfig())
	h.inject(
		metaFrame(t, "scenario.bin", 3),
		contentFrame(t, 2, units[2]),
		contentFrame(t, 0, units[0]),
		corrupt(contentFrame(t, 1, units[1])),
		contentFrame(t, 1, units[1]),
	)

	got := h.acks(5)
	want := []int32{-1, 2, 0, -2, 1}
	if !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}

	res, err := h.wait()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.Units != 3 || res.Bytes != 1050 || res.FileName != "scenario.bin" {
		t.Errorf("unexpected result: %+v", res)
	}
	if out := h.output("scenario.bin"); !bytes.Equal(out, data) {
		t.Fatalf("output mismatch: got %d bytes, want %d", len(out), len(data))
	}
	h.noMoreAcks()
}

// TestHandshakeIdempotence verifies that repeated metadata frames are each
// acked and only the first is recorded.
func TestHandshakeIdempotence(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	meta := metaFrame(t, "same.txt", 1)
	h.inject(meta, meta, meta, metaFrame(t, "other.txt", 9), contentFrame(t, 0, []byte("hi")))

	if got, want := h.acks(5), []int32{-1, -1, -1, -1, 0}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}

	res, err := h.wait()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.FileName != "same.txt" || res.Units != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if out := h.output("same.txt"); string(out) != "hi" {
		t.Fatalf("output: got %q", out)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "other.txt")); !os.IsNotExist(err) {
		t.Fatalf("conflicting metadata created a file: %v", err)
	}
}

// TestRepeatMetaAck verifies the optional extra metadata ack on handoff.
func TestRepeatMetaAck(t *testing.T) {
	cfg := config.DefaultReceiverConfig()
	cfg.RepeatMetaAck = true

	h := startReceiver(t, cfg)
	h.inject(metaFrame(t, "r.txt", 1), contentFrame(t, 0, []byte("x")))

	if got, want := h.acks(3), []int32{-1, -1, 0}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}
	if _, err := h.wait(); err != nil {
		t.Fatalf("Receive: %v", err)
	}
}

// TestZeroLengthFile verifies that a zero-unit transfer finishes after the
// handshake and leaves an empty file.
func TestZeroLengthFile(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	h.inject(metaFrame(t, "empty.dat", 0))

	if got := h.acks(1); got[0] != protocol.IndexMetadata {
		t.Fatalf("ack: got %d, want -1", got[0])
	}
	res, err := h.wait()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.Units != 0 || res.Bytes != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if out := h.output("empty.dat"); len(out) != 0 {
		t.Fatalf("expected empty file, got %d bytes", len(out))
	}
}

// TestDuplicateDeliveryWritesOnce verifies that the same unit delivered twice
// advances the output by one unit only, while both copies are acked.
func TestDuplicateDeliveryWritesOnce(t *testing.T) {
	data := makeTestData(700, 0x22)
	units := splitUnits(data)

	h := startReceiver(t, config.DefaultReceiverConfig())
	h.inject(
		metaFrame(t, "dup.bin", 2),
		contentFrame(t, 0, units[0]),
		contentFrame(t, 0, units[0]),
		contentFrame(t, 1, units[1]),
	)

	if got, want := h.acks(4), []int32{-1, 0, 0, 1}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}
	res, err := h.wait()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if res.Bytes != 700 {
		t.Fatalf("bytes written: got %d, want 700", res.Bytes)
	}
	if out := h.output("dup.bin"); !bytes.Equal(out, data) {
		t.Fatal("output mismatch")
	}
}

// TestReorderingPermutations delivers units in shuffled orders with
// interleaved duplicates and checks the output every time.
func TestReorderingPermutations(t *testing.T) {
	data := makeTestData(7*protocol.MaxPayloadSize-100, 0x33)
	units := splitUnits(data)
	n := int32(len(units))

	for seed := uint64(1); seed <= 8; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))

		var order []int32
		for i := range n {
			order = append(order, i)
			if rng.IntN(3) == 0 {
				order = append(order, i)
			}
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		h := startReceiver(t, config.DefaultReceiverConfig())
		h.inject(metaFrame(t, "perm.bin", n))
		for _, idx := range order {
			h.inject(contentFrame(t, idx, units[idx]))
		}

		if _, err := h.wait(); err != nil {
			t.Fatalf("seed %d: Receive: %v", seed, err)
		}
		if out := h.output("perm.bin"); !bytes.Equal(out, data) {
			t.Fatalf("seed %d (order %v): output mismatch", seed, order)
		}
	}
}

// TestCorruptedMetadataRequestsResend verifies the -2 reply during handshake.
func TestCorruptedMetadataRequestsResend(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	meta := metaFrame(t, "c.txt", 1)
	h.inject(corrupt(meta), meta, contentFrame(t, 0, []byte("ok")))

	if got, want := h.acks(3), []int32{-2, -1, 0}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}
	if _, err := h.wait(); err != nil {
		t.Fatalf("Receive: %v", err)
	}
}

// TestMalformedFramesAreSilent verifies that short and malformed datagrams
// produce no ack in either phase.
func TestMalformedFramesAreSilent(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	h.inject(
		[]byte{1, 2, 3},
		protocol.EncodeAck(0), // acks are not valid input for a receiver
		metaFrame(t, "m.txt", 2),
		[]byte{},
		protocol.EncodeAck(5),
		contentFrame(t, 0, []byte("a")),
		[]byte{9, 9, 9, 9, 9, 9, 9},
		contentFrame(t, 1, []byte("b")),
	)

	if got, want := h.acks(3), []int32{-1, 0, 1}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}
	if _, err := h.wait(); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if out := h.output("m.txt"); string(out) != "ab" {
		t.Fatalf("output: got %q", out)
	}
}

// TestStaleFramesDuringReassembly covers delayed metadata copies and indices
// past the end of the transfer.
func TestStaleFramesDuringReassembly(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	meta := metaFrame(t, "s.txt", 2)
	h.inject(
		meta,
		contentFrame(t, 0, []byte("x")),
		meta,
		contentFrame(t, 7, []byte("out of range")),
		contentFrame(t, 1, []byte("y")),
	)

	if got, want := h.acks(4), []int32{-1, 0, -1, 1}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}
	if _, err := h.wait(); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if out := h.output("s.txt"); string(out) != "xy" {
		t.Fatalf("output: got %q", out)
	}
}

// TestContentBeforeMetadataIgnored verifies that content arriving before any
// metadata is dropped without an ack.
func TestContentBeforeMetadataIgnored(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	h.inject(contentFrame(t, 0, []byte("early")))
	h.noMoreAcks()

	h.inject(metaFrame(t, "late.txt", 1), contentFrame(t, 0, []byte("final")))
	if got, want := h.acks(2), []int32{-1, 0}; !equalAcks(got, want) {
		t.Fatalf("ack sequence: got %v, want %v", got, want)
	}
	if _, err := h.wait(); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if out := h.output("late.txt"); string(out) != "final" {
		t.Fatalf("output: got %q", out)
	}
}

// TestLingerAcksDuplicates verifies that duplicates after completion are
// still acked during the linger period and that Receive then returns.
func TestLingerAcksDuplicates(t *testing.T) {
	cfg := config.DefaultReceiverConfig()
	cfg.Linger = 150 * time.Millisecond

	h := startReceiver(t, cfg)
	last := contentFrame(t, 0, []byte("only"))
	h.inject(metaFrame(t, "l.txt", 1), last)
	h.acks(2)

	h.inject(last)
	if got := h.acks(1); got[0] != 0 {
		t.Fatalf("linger ack: got %d, want 0", got[0])
	}

	select {
	case o := <-h.done:
		if o.err != nil {
			t.Fatalf("Receive: %v", o.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("receiver did not leave linger")
	}
	if out := h.output("l.txt"); string(out) != "only" {
		t.Fatalf("output: got %q", out)
	}
}

// TestInvalidFileName verifies that a name that cannot be placed in the
// output directory aborts the session.
func TestInvalidFileName(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	h.inject(metaFrame(t, "..", 1), contentFrame(t, 0, []byte("z")))

	_, err := h.wait()
	if !errors.Is(err, ErrInvalidFileName) {
		t.Fatalf("got %v, want ErrInvalidFileName", err)
	}
}

// TestCancelDuringHandshake verifies that Receive returns the context error
// when cancelled while waiting.
func TestCancelDuringHandshake(t *testing.T) {
	h := startReceiver(t, config.DefaultReceiverConfig())
	time.Sleep(20 * time.Millisecond)
	h.cancel()

	_, err := h.wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	link := transport.NewLink(transport.LinkOptions{})
	defer link.Close()
	if _, err := New(link.B, config.ReceiverConfig{}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("got %v, want config.ErrInvalid", err)
	}
}
