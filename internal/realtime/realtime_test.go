package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	broker, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("create broker: %v", err)
	}
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan struct {
		OrgID string
		Event Event
	}, 1)
	go func() {
		_ = broker.Subscribe(ctx, func(orgID string, event Event) {
			received <- struct {
				OrgID string
				Event Event
			}{orgID, event}
		})
	}()

	// PSubscribe registration races the publish; retry until delivery.
	deadline := time.After(2 * time.Second)
	for {
		if err := broker.Publish(ctx, "org_42", "invoices"); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case got := <-received:
			if got.OrgID != "org_42" {
				t.Fatalf("org: got %q, want org_42", got.OrgID)
			}
			if got.Event.Topic != "invoices" {
				t.Fatalf("topic: got %q, want invoices", got.Event.Topic)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	broker, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("create broker: %v", err)
	}
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- broker.Subscribe(ctx, func(string, Event) {})
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop on cancel")
	}
}
