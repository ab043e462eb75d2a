package violations

import (
	"testing"
	"time"
)

func TestRecentReturnsInsertionOrder(t *testing.T) {
	s := NewStore(4)
	for i := 0; i < 3; i++ {
		s.Record(Violation{Timestamp: time.Unix(int64(i), 0), Kind: KindNetwork, Target: "h"})
	}
	recent := s.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	for i, v := range recent {
		if v.Timestamp.Unix() != int64(i) {
			t.Errorf("recent[%d].Timestamp = %v, want %d", i, v.Timestamp, i)
		}
	}
}

func TestRecentWrapsAtCapacity(t *testing.T) {
	s := NewStore(2)
	s.Record(Violation{Target: "a"})
	s.Record(Violation{Target: "b"})
	s.Record(Violation{Target: "c"})

	recent := s.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Target != "b" || recent[1].Target != "c" {
		t.Errorf("recent = %+v, want [b c]", recent)
	}
}

func TestNewStoreDefaultsNonPositiveCapacity(t *testing.T) {
	s := NewStore(0)
	if s.cap != defaultCapacity {
		t.Errorf("cap = %d, want %d", s.cap, defaultCapacity)
	}
}

func TestSubscribeReceivesFutureRecords(t *testing.T) {
	s := NewStore(4)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Record(Violation{Kind: KindFileRead, Target: "/etc/shadow"})

	select {
	case v := <-ch:
		if v.Target != "/etc/shadow" {
			t.Errorf("Target = %q, want /etc/shadow", v.Target)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed violation")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := NewStore(4)
	ch, unsubscribe := s.Subscribe()
	unsubscribe()

	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlockRecord(t *testing.T) {
	s := NewStore(4)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			s.Record(Violation{Target: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow subscriber")
	}
	<-ch
}
