package presence

import (
	"testing"
	"time"

	"github.com/fechatter/messaging-core/internal/model"
	"github.com/google/uuid"
)

func TestSetOnline_EmitsOnlyOnTransitionFromOffline(t *testing.T) {
	tr := NewTracker(nil, time.Hour, time.Minute)
	var changes []model.PresenceChanged
	tr.OnPresenceChange(func(ev model.PresenceChanged) { changes = append(changes, ev) })

	user := uuid.New()
	tr.SetOnline(user)
	tr.SetOnline(user)
	tr.SetOnline(user)

	if len(changes) != 1 {
		t.Fatalf("got %d presence changes, want 1 (repeated SetOnline while already online should not re-emit)", len(changes))
	}
	if changes[0].Status != model.PresenceOnline {
		t.Errorf("status = %v, want online", changes[0].Status)
	}
	if got := tr.Status(user); got != model.PresenceOnline {
		t.Errorf("Status() = %v, want online", got)
	}
}

func TestDisconnect_CancelledByReconnectWithinGracePeriod(t *testing.T) {
	tr := NewTracker(nil, time.Hour, time.Minute)
	var changes []model.PresenceChanged
	tr.OnPresenceChange(func(ev model.PresenceChanged) { changes = append(changes, ev) })

	user := uuid.New()
	tr.SetOnline(user)
	tr.Disconnect(user)
	tr.SetOnline(user)

	if got := tr.Status(user); got != model.PresenceOnline {
		t.Errorf("Status() = %v, want online after reconnect", got)
	}
	for _, c := range changes {
		if c.Status == model.PresenceOffline {
			t.Errorf("offline transition fired despite reconnect inside the grace window")
		}
	}
}

func TestSetStatus_AlwaysEmits(t *testing.T) {
	tr := NewTracker(nil, time.Hour, time.Minute)
	count := 0
	tr.OnPresenceChange(func(model.PresenceChanged) { count++ })

	user := uuid.New()
	tr.SetStatus(user, model.PresenceAway)
	tr.SetStatus(user, model.PresenceAway)

	if count != 2 {
		t.Errorf("SetStatus emitted %d times, want 2 (unlike SetOnline, every call emits)", count)
	}
	if got := tr.Status(user); got != model.PresenceAway {
		t.Errorf("Status() = %v, want away", got)
	}
}

func TestUnknownUser_DefaultsToOffline(t *testing.T) {
	tr := NewTracker(nil, time.Hour, time.Minute)
	if got := tr.Status(uuid.New()); got != model.PresenceOffline {
		t.Errorf("Status() for unseen user = %v, want offline", got)
	}
}

func TestStartStopTyping(t *testing.T) {
	tr := NewTracker(nil, time.Hour, time.Minute)
	var events []model.TypingChanged
	tr.OnTypingChange(func(ev model.TypingChanged) { events = append(events, ev) })

	chat, user := uuid.New(), uuid.New()
	tr.StartTyping(chat, user)
	tr.StartTyping(chat, user) // refresh, should not re-emit
	tr.StopTyping(chat, user)
	tr.StopTyping(chat, user) // already gone, should not re-emit

	if len(events) != 2 {
		t.Fatalf("got %d typing events, want 2 (one start, one stop)", len(events))
	}
	if !events[0].Active {
		t.Errorf("first event should be active=true")
	}
	if events[1].Active {
		t.Errorf("second event should be active=false")
	}
}

func TestSweepExpiredTyping(t *testing.T) {
	tr := NewTracker(nil, time.Hour, time.Millisecond)
	var events []model.TypingChanged
	tr.OnTypingChange(func(ev model.TypingChanged) { events = append(events, ev) })

	chat, user := uuid.New(), uuid.New()
	tr.StartTyping(chat, user)
	time.Sleep(5 * time.Millisecond)

	tr.SweepExpiredTyping()

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (start, then sweep-driven stop)", len(events))
	}
	if events[1].Active {
		t.Errorf("sweep should emit active=false for the expired indicator")
	}

	// sweeping again with nothing expired should not emit further
	tr.SweepExpiredTyping()
	if len(events) != 2 {
		t.Errorf("second sweep with no expired entries emitted extra events")
	}
}
