package stream

import (
	"sync"
	"time"

	"github.com/rvm-io/rvm-server/internal/reconcile"
)

// RunEvent is one progress notification for a run, as delivered to
// subscribers.
type RunEvent struct {
	RunID     string             `json:"run_id"`
	Time      time.Time          `json:"time"`
	Type      string             `json:"type"`
	Phase     string             `json:"phase,omitempty"`
	AccountID string             `json:"account_id,omitempty"`
	Outcome   *reconcile.Outcome `json:"outcome,omitempty"`
}

const subscriberBuffer = 64

// Hub fans run events out to websocket subscribers. Events are buffered per
// run so a subscriber attaching mid-run sees the full history; the buffer is
// dropped when the run completes.
type Hub struct {
	mu   sync.Mutex
	runs map[string]*runStream
}

type runStream struct {
	events []RunEvent
	subs   map[chan RunEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{runs: make(map[string]*runStream)}
}

// Start registers a run so subscribers can attach before its first event.
func (h *Hub) Start(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[runID]; !ok {
		h.runs[runID] = &runStream{subs: make(map[chan RunEvent]struct{})}
	}
}

// Publish appends an event to the run's buffer and delivers it to current
// subscribers. Slow subscribers miss events rather than block the run.
func (h *Hub) Publish(ev RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[ev.RunID]
	if !ok {
		return
	}
	rs.events = append(rs.events, ev)
	for ch := range rs.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Complete closes all subscriber channels for the run and drops its buffer.
func (h *Hub) Complete(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[runID]
	if !ok {
		return
	}
	for ch := range rs.subs {
		close(ch)
	}
	delete(h.runs, runID)
}

// Subscribe attaches to a live run. It returns the events published so far,
// a channel for subsequent ones, and a cancel callback. ok is false when the
// run is not live (unknown or already completed).
func (h *Hub) Subscribe(runID string) (replay []RunEvent, ch chan RunEvent, cancel func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, exists := h.runs[runID]
	if !exists {
		return nil, nil, nil, false
	}

	ch = make(chan RunEvent, subscriberBuffer)
	rs.subs[ch] = struct{}{}
	replay = append([]RunEvent(nil), rs.events...)

	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if rs, exists := h.runs[runID]; exists {
			if _, still := rs.subs[ch]; still {
				delete(rs.subs, ch)
				close(ch)
			}
		}
	}
	return replay, ch, cancel, true
}
