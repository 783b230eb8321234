package events

import "testing"

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New(8, 32)
	sub := bus.Subscribe()
	defer sub.Cancel()

	bus.Publish(Event{Type: TypeJobUpdate, JobID: 1})
	bus.Publish(Event{Type: TypeJobUpdate, JobID: 2})
	bus.Publish(Event{Type: TypeJobUpdate, JobID: 3})

	for _, want := range []int64{1, 2, 3} {
		got := <-sub.C
		if got.JobID != want {
			t.Fatalf("JobID = %d, want %d", got.JobID, want)
		}
	}
}

func TestPublishDropsSlowSubscriberWithoutBlocking(t *testing.T) {
	bus := New(2, 32)
	sub := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: TypeJobUpdate, JobID: int64(i)})
	}

	if !sub.Dropped() {
		t.Fatal("expected slow subscriber to be dropped")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(8, 32)
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)
	bus.Publish(Event{Type: TypeJobUpdate, JobID: 1})

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected no delivery after Unsubscribe")
		}
	default:
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
	}
}

func TestOtherSubscribersUnaffectedByOneDrop(t *testing.T) {
	bus := New(1, 32)
	slow := bus.Subscribe()
	fast := bus.Subscribe()
	drain := make(chan struct{})
	go func() {
		for range fast.C {
		}
		close(drain)
	}()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: TypeJobUpdate, JobID: int64(i)})
	}

	if !slow.Dropped() {
		t.Fatal("expected slow subscriber dropped")
	}
	fast.Cancel()
	<-drain
}

func TestTailReturnsRecentEvents(t *testing.T) {
	bus := New(8, 4)
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: TypeJobUpdate, JobID: int64(i)})
	}
	tail := bus.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("len(tail) = %d, want 2", len(tail))
	}
	if tail[0].JobID != 8 || tail[1].JobID != 9 {
		t.Fatalf("tail = %+v, want JobID 8 then 9", tail)
	}
}

func TestSinceReturnsOnlyNewerEvents(t *testing.T) {
	bus := New(8, 32)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: TypeJobUpdate, JobID: int64(i)})
	}
	cursor := bus.Tail(1)[0].Sequence

	for i := 5; i < 8; i++ {
		bus.Publish(Event{Type: TypeJobUpdate, JobID: int64(i)})
	}

	fresh := bus.Since(cursor)
	if len(fresh) != 3 {
		t.Fatalf("len(fresh) = %d, want 3", len(fresh))
	}
	for i, evt := range fresh {
		if evt.JobID != int64(5+i) {
			t.Fatalf("fresh[%d].JobID = %d, want %d", i, evt.JobID, 5+i)
		}
	}
}

func TestSinceWithZeroReturnsEverything(t *testing.T) {
	bus := New(8, 32)
	bus.Publish(Event{Type: TypeJobUpdate, JobID: 1})
	bus.Publish(Event{Type: TypeJobUpdate, JobID: 2})

	if got := bus.Since(0); len(got) != 2 {
		t.Fatalf("len(Since(0)) = %d, want 2", len(got))
	}
}
