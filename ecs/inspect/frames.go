package inspect

import (
	"time"

	"github.com/plus3/ecscore/ecs"
)

// FrameHistory is a ring buffer of recent frame durations.
type FrameHistory struct {
	frames []time.Duration
	index  int
	filled bool
	last   time.Time
}

// NewFrameHistory keeps the last n frames.
func NewFrameHistory(n int) *FrameHistory {
	if n <= 0 {
		n = 120
	}
	return &FrameHistory{frames: make([]time.Duration, n)}
}

// Tick records the time since the previous Tick and returns it. The first
// call only starts the clock.
func (h *FrameHistory) Tick() time.Duration {
	now := time.Now()
	if h.last.IsZero() {
		h.last = now
		return 0
	}
	delta := now.Sub(h.last)
	h.last = now
	h.Record(delta)
	return delta
}

// Record adds one frame duration.
func (h *FrameHistory) Record(d time.Duration) {
	h.frames[h.index] = d
	h.index = (h.index + 1) % len(h.frames)
	if h.index == 0 {
		h.filled = true
	}
}

// Len returns how many frames are held.
func (h *FrameHistory) Len() int {
	if h.filled {
		return len(h.frames)
	}
	return h.index
}

// Frames returns the held durations, oldest first.
func (h *FrameHistory) Frames() []time.Duration {
	if !h.filled {
		return append([]time.Duration(nil), h.frames[:h.index]...)
	}
	out := make([]time.Duration, 0, len(h.frames))
	out = append(out, h.frames[h.index:]...)
	return append(out, h.frames[:h.index]...)
}

// Average returns the mean duration of the held frames.
func (h *FrameHistory) Average() time.Duration {
	n := h.Len()
	if n == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range h.frames[:n] {
		total += d
	}
	return total / time.Duration(n)
}

// FPS returns the frame rate matching Average.
func (h *FrameHistory) FPS() float64 {
	avg := h.Average()
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}

// Summary combines world statistics with the frame history.
type Summary struct {
	Entities   int
	Tables     int
	Singletons []string
	AvgFrame   time.Duration
	FPS        float64
	Largest    []TableInfo
}

// Summarize collects a Summary with the top largest non-empty tables.
func Summarize(w *ecs.World, h *FrameHistory, top int) Summary {
	stats := w.CollectStats()
	s := Summary{
		Entities:   stats.TotalEntityCount,
		Tables:     stats.TableCount,
		Singletons: stats.SingletonTypes,
	}
	if h != nil {
		s.AvgFrame = h.Average()
		s.FPS = h.FPS()
	}

	viewer := NewTableViewer()
	viewer.SkipEmpty(true)
	tables := viewer.Tables(w)
	s.Largest = tables[:min(top, len(tables))]
	return s
}
