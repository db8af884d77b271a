package stream

import (
	"testing"
	"time"
)

func TestHubReplayAndLiveDelivery(t *testing.T) {
	h := NewHub()
	h.Start("run-1")
	h.Publish(RunEvent{RunID: "run-1", Type: "phase", Phase: "cleanup"})

	replay, ch, cancel, ok := h.Subscribe("run-1")
	if !ok {
		t.Fatalf("expected live subscription")
	}
	defer cancel()

	if len(replay) != 1 || replay[0].Phase != "cleanup" {
		t.Fatalf("unexpected replay: %+v", replay)
	}

	h.Publish(RunEvent{RunID: "run-1", Type: "phase", Phase: "deploy"})
	select {
	case ev := <-ch:
		if ev.Phase != "deploy" {
			t.Fatalf("unexpected live event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live event")
	}
}

func TestHubCompleteClosesSubscribers(t *testing.T) {
	h := NewHub()
	h.Start("run-1")

	_, ch, _, ok := h.Subscribe("run-1")
	if !ok {
		t.Fatalf("expected live subscription")
	}

	h.Complete("run-1")
	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close")
	}

	if _, _, _, ok := h.Subscribe("run-1"); ok {
		t.Fatalf("completed run must not accept subscribers")
	}
}

func TestHubPublishUnknownRunIsNoop(t *testing.T) {
	h := NewHub()
	h.Publish(RunEvent{RunID: "run-unknown", Type: "phase"})
}
