package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide datagram counter.
var Stats = &stats{}

type stats struct {
	FramesSent  atomic.Int64 // datagrams written to the socket
	FramesRecv  atomic.Int64 // datagrams read from the socket
	BytesSent   atomic.Int64 // bytes written to the socket
	BytesRecv   atomic.Int64 // bytes read from the socket
	Retransmits atomic.Int64 // frames sent again after timeout, corruption or a wrong ack
	Corrupted   atomic.Int64 // frames that failed their checksum
	Dropped     atomic.Int64 // frames discarded without a response
}

func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddRetransmit() { s.Retransmits.Add(1) }
func (s *stats) AddCorrupted()  { s.Corrupted.Add(1) }
func (s *stats) AddDropped()    { s.Dropped.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesSent, FramesRecv int64
	BytesSent, BytesRecv   int64
	Retransmits            int64
	Corrupted              int64
	Dropped                int64
}

// Snapshot reads all counters.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:  s.FramesSent.Load(),
		FramesRecv:  s.FramesRecv.Load(),
		BytesSent:   s.BytesSent.Load(),
		BytesRecv:   s.BytesRecv.Load(),
		Retransmits: s.Retransmits.Load(),
		Corrupted:   s.Corrupted.Load(),
		Dropped:     s.Dropped.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur, prev, interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns the per-interval rates and the running error counters.
func formatStats(cur, prev Snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("Out: %s/s | In: %s/s | Retx: %d | Corrupt: %d | Drop: %d",
		FormatBytes(float64(cur.BytesSent-prev.BytesSent)/secs),
		FormatBytes(float64(cur.BytesRecv-prev.BytesRecv)/secs),
		cur.Retransmits,
		cur.Corrupted,
		cur.Dropped,
	)
}
