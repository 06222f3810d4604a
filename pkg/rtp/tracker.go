package rtp

import (
	"fmt"
	"sync"
	"time"
)

// Verdict is the outcome of offering a sequence number to the Tracker
type Verdict int

const (
	// Stale packets are at or behind the current frame and are dropped
	Stale Verdict = iota
	// InOrder packets are exactly current+1
	InOrder
	// Gap packets skip ahead; they are accepted and one loss event is recorded
	Gap
)

func (v Verdict) String() string {
	switch v {
	case Stale:
		return "Stale"
	case InOrder:
		return "InOrder"
	case Gap:
		return "Gap"
	default:
		return "Unknown"
	}
}

// Accepted reports whether the packet should be delivered
func (v Verdict) Accepted() bool {
	return v != Stale
}

// Report is the statistics of one play run, computed at PAUSE
type Report struct {
	FirstFrame int
	LastFrame  int
	Received   int
	Lost       int
	LossEvents int
	Bytes      int
	Elapsed    time.Duration
	LossRate   float64
	DataRate   float64 // KB/s
	FrameRate  float64 // frames/s
}

func (r Report) String() string {
	return fmt.Sprintf("loss=%.3f data=%.1fKB/s fps=%.1f received=%d lost=%d",
		r.LossRate, r.DataRate, r.FrameRate, r.Received, r.Lost)
}

// Tracker owns currentFrameNbr and the playback statistics. It is shared by the
// receive loop (writer on every packet) and the control session (writer on PLAY,
// reader on PAUSE), so every access goes through mu.
type Tracker struct {
	mu sync.Mutex

	current       int
	totalReceived int

	// per run
	firstFrame int
	received   int
	lost       int
	lossEvents int
	byteCount  int
	runStart   time.Time

	now func() time.Time
}

// NewTracker creates a tracker positioned before frame 1
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Accept applies the sequencing rule to one packet and, if accepted, updates the statistics
func (t *Tracker) Accept(seq uint16, payloadSize int) (Verdict, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame := extend(t.current, seq)
	if frame <= t.current {
		return Stale, frame
	}

	verdict := InOrder
	if frame != t.current+1 {
		verdict = Gap
		t.lossEvents++
		t.lost += frame - t.current - 1
	}

	t.byteCount += payloadSize
	t.received++
	t.totalReceived++
	t.current = frame

	return verdict, frame
}

// wrapWindow bounds how close to the 65535 -> 0 boundary current and seq must be
// for seq to count as the other side of a wrap.
const wrapWindow = 0x1000

// extend maps a 16-bit sequence number onto the frame counter. seq moves into the
// next cycle only when current sits just below the wrap and seq just above it, and
// into the previous cycle in the opposite case; any other seq keeps current's
// cycle, so a late packet far behind current stays stale.
func extend(current int, seq uint16) int {
	low := current & 0xFFFF
	frame := current&^0xFFFF | int(seq)
	switch {
	case low >= 0x10000-wrapWindow && int(seq) < wrapWindow:
		frame += 0x10000
	case low < wrapWindow && int(seq) >= 0x10000-wrapWindow:
		frame -= 0x10000
	}
	return frame
}

// StartRun resets the per-run statistics. startFrame is the first frame the run asked for.
func (t *Tracker) StartRun(startFrame int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.firstFrame = startFrame
	t.received = 0
	t.lost = 0
	t.lossEvents = 0
	t.byteCount = 0
	t.runStart = t.now()
}

// SetCurrent repositions the stream, used by seek
func (t *Tracker) SetCurrent(frame int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = frame
}

// Current returns currentFrameNbr
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// TotalReceived returns the number of frames accepted since the last Reset
func (t *Tracker) TotalReceived() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalReceived
}

// Reset returns the tracker to its initial state (TEARDOWN)
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = 0
	t.totalReceived = 0
	t.firstFrame = 0
	t.received = 0
	t.lost = 0
	t.lossEvents = 0
	t.byteCount = 0
	t.runStart = time.Time{}
}

// Report computes loss, data and frame rate for the current run
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Report{
		FirstFrame: t.firstFrame,
		LastFrame:  t.current,
		Received:   t.received,
		Lost:       t.lost,
		LossEvents: t.lossEvents,
		Bytes:      t.byteCount,
	}
	if !t.runStart.IsZero() {
		r.Elapsed = t.now().Sub(t.runStart)
	}

	if expected := t.current - t.firstFrame + 1; expected > 0 {
		r.LossRate = 1 - float64(t.received)/float64(expected)
	}
	if secs := r.Elapsed.Seconds(); secs > 0 {
		r.DataRate = float64(t.byteCount) / secs / 1000
		r.FrameRate = float64(t.received) / secs
	}

	return r
}
