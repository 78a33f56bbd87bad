package events

import (
	"sync"
	"testing"
	"time"

	"license-gateway/internal/license"
)

func TestSubscribeByType(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var seen []license.EventType

	wg.Add(1)
	bus.Subscribe(license.EventLicenseActivated, func(e license.AnalyticsEvent) {
		defer wg.Done()
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	bus.Publish(license.AnalyticsEvent{Type: license.EventLicenseValidated})
	bus.Publish(license.AnalyticsEvent{Type: license.EventLicenseActivated})
	wg.Wait()

	// give a stray delivery of the validated event a chance to show up
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != license.EventLicenseActivated {
		t.Errorf("seen = %v, want only license_activated", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	unsubA := bus.SubscribeAll(func(license.AnalyticsEvent) {})
	unsubB := bus.Subscribe(license.EventLicenseHeartbeat, func(license.AnalyticsEvent) {})

	if n := bus.SubscriberCount(); n != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", n)
	}
	unsubA()
	unsubB()
	unsubB()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe, want 0", n)
	}
}

func TestPublishFillsTimestamp(t *testing.T) {
	bus := NewEventBus()
	got := make(chan license.AnalyticsEvent, 1)
	bus.SubscribeAll(func(e license.AnalyticsEvent) { got <- e })

	bus.Publish(license.AnalyticsEvent{Type: license.EventLicenseCreated})
	select {
	case e := <-got:
		if e.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}
