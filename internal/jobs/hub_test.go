package jobs_test

import (
	"context"
	"testing"
	"time"

	"printkiosk/internal/jobs"
)

func TestHubFetchWaitsForEvents(t *testing.T) {
	hub := jobs.NewHub(8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(30 * time.Millisecond)
		hub.Publish(jobs.EventCreated, &jobs.Job{ID: "1", FileName: "a.pdf"})
	}()

	events, next, err := hub.Fetch(ctx, 0, 10, true)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 1 || events[0].Job.ID != "1" || next != 1 {
		t.Fatalf("unexpected fetch result %+v next=%d", events, next)
	}
}

func TestHubFetchHonoursContext(t *testing.T) {
	hub := jobs.NewHub(8)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 0, 10, true); err == nil {
		t.Fatal("expected context error when no events arrive")
	}
}

func TestHubDropsMalformedAndBoundsBuffer(t *testing.T) {
	hub := jobs.NewHub(3)
	hub.Publish(jobs.EventCreated, &jobs.Job{ID: "bad", FileName: " "})
	for _, id := range []string{"1", "2", "3", "4"} {
		hub.Publish(jobs.EventUpdated, &jobs.Job{ID: id, FileName: id + ".pdf"})
	}

	events, next, err := hub.Fetch(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Job.ID != "2" || next != 4 {
		t.Fatalf("unexpected buffered events %+v next=%d", events, next)
	}

	events, _, _ = hub.Fetch(context.Background(), next, 0, false)
	if len(events) != 0 {
		t.Fatalf("expected no events after cursor, got %d", len(events))
	}
}

func TestHubSubscribeClosesOnCancel(t *testing.T) {
	hub := jobs.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx)
	hub.Publish(jobs.EventCreated, &jobs.Job{ID: "1", FileName: "a.pdf"})

	select {
	case evt := <-ch:
		if evt.Type != jobs.EventCreated {
			t.Fatalf("unexpected event type %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on subscription")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}
