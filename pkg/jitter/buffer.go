// Package jitter implements a receive-side reordering buffer for audio
// frames. One Buffer serves one (local receiver, remote sender) pair: frames
// are inserted by RTP sequence number and released in order on the caller's
// playback schedule. A frame whose predecessor never arrives within a
// bounded wait is skipped rather than blocked on, trading completeness for
// latency.
package jitter

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// State is the buffer lifecycle: Idle until the first packet, Buffering
// while the target delay accumulates, Steady while draining, back to Idle
// after an inactivity timeout.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateSteady:
		return "steady"
	}
	return "unknown"
}

type Config struct {
	// TargetDelay is how long the first packet of a window is held before
	// playback starts. Too small increases audible gaps, too large increases
	// perceived latency.
	TargetDelay time.Duration
	// MaxGapWait bounds how long playback stalls on a missing sequence
	// number before it is skipped.
	MaxGapWait time.Duration
	// IdleTimeout resets the buffer after a silence period.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TargetDelay: 40 * time.Millisecond,
		MaxGapWait:  80 * time.Millisecond,
		IdleTimeout: 2 * time.Second,
	}
}

type entry struct {
	receivedAt time.Time
	payload    []byte
}

// Buffer reorders frames from a single remote sender. Safe for concurrent
// use by a receiving goroutine and a playback goroutine.
type Buffer struct {
	cfg Config

	mu          sync.Mutex
	state       State
	entries     map[uint16]entry
	nextSeq     uint16
	windowStart time.Time
	gapSince    time.Time
	lastPush    time.Time
}

func NewBuffer(cfg Config) *Buffer {
	if cfg.TargetDelay <= 0 {
		cfg.TargetDelay = DefaultConfig().TargetDelay
	}
	if cfg.MaxGapWait <= 0 {
		cfg.MaxGapWait = DefaultConfig().MaxGapWait
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Buffer{
		cfg:     cfg,
		entries: make(map[uint16]entry),
	}
}

// Push inserts a frame by sequence number. It reports false when the frame
// arrived too late, that is behind the release point, and was discarded.
func (b *Buffer) Push(pkt *rtp.Packet, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeReset(now)

	seq := pkt.SequenceNumber
	if b.state == StateIdle {
		b.state = StateBuffering
		b.windowStart = now
		b.nextSeq = seq
	} else if seqBefore(seq, b.nextSeq) {
		if b.state != StateBuffering {
			// Predecessor already released or skipped.
			return false
		}
		// Playback has not started yet, so an arrival that predates the
		// first-seen frame slides the window back instead of being lost.
		b.nextSeq = seq
	}

	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)
	b.entries[seq] = entry{receivedAt: now, payload: payload}
	b.lastPush = now
	return true
}

// DrainReady releases the frames that are due for playback at now, in
// strictly increasing sequence order.
func (b *Buffer) DrainReady(now time.Time) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeReset(now)

	switch b.state {
	case StateIdle:
		return nil
	case StateBuffering:
		if now.Sub(b.windowStart) < b.cfg.TargetDelay {
			return nil
		}
		b.state = StateSteady
	}

	var out [][]byte
	for len(b.entries) > 0 {
		if e, ok := b.entries[b.nextSeq]; ok {
			out = append(out, e.payload)
			delete(b.entries, b.nextSeq)
			b.nextSeq++
			b.gapSince = time.Time{}
			continue
		}

		// Missing predecessor with later frames pending: wait a bounded
		// amount, then skip forward to the next buffered sequence.
		if b.gapSince.IsZero() {
			b.gapSince = now
			break
		}
		if now.Sub(b.gapSince) < b.cfg.MaxGapWait {
			break
		}
		b.nextSeq = b.lowestPending()
		b.gapSince = time.Time{}
	}
	return out
}

// State returns the current lifecycle state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pending returns the number of buffered frames not yet released.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) maybeReset(now time.Time) {
	if b.state == StateIdle {
		return
	}
	if now.Sub(b.lastPush) >= b.cfg.IdleTimeout {
		b.state = StateIdle
		b.entries = make(map[uint16]entry)
		b.gapSince = time.Time{}
	}
}

// lowestPending returns the buffered sequence number closest after nextSeq.
// Caller must hold the lock and ensure the buffer is not empty.
func (b *Buffer) lowestPending() uint16 {
	var (
		best  uint16
		found bool
	)
	for seq := range b.entries {
		if !found || seqBefore(seq, best) {
			best = seq
			found = true
		}
	}
	return best
}

// seqBefore reports whether a precedes b in RTP serial-number order,
// tolerating uint16 wraparound.
func seqBefore(a, b uint16) bool {
	return a != b && b-a < 0x8000
}
