package httpapi

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/models"
)

type fakeSession struct {
	incoming chan string
	sent     chan string
	mu       sync.Mutex
	closed   uint32
}

func newFakeSession() *fakeSession {
	return &fakeSession{incoming: make(chan string, 4), sent: make(chan string, 16)}
}

func (s *fakeSession) Recv() (string, error) {
	msg, ok := <-s.incoming
	if !ok {
		return "", errors.New("session closed")
	}
	return msg, nil
}

func (s *fakeSession) Send(msg string) error {
	s.sent <- msg
	return nil
}

func (s *fakeSession) Close(status uint32, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = status
	return nil
}

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"subscribe", `{"action":"subscribe","location_id":"clinic","owner_id":"u1"}`, true},
		{"unsubscribe", `{"action":"unsubscribe"}`, true},
		{"subscribe without location", `{"action":"subscribe"}`, false},
		{"unknown action", `{"action":"publish","location_id":"clinic"}`, false},
		{"not json", `hello`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseSubscribe([]byte(tt.input)); ok != tt.ok {
				t.Fatalf("expected %v, got %v", tt.ok, ok)
			}
		})
	}
}

func TestRealtimeDeliversSubscribedLocation(t *testing.T) {
	emitter := events.NewEmitter(8, nil)
	session := newFakeSession()
	done := make(chan struct{})
	go func() {
		serveRealtime(session, emitter, nil)
		close(done)
	}()

	session.incoming <- `{"action":"subscribe","location_id":"clinic"}`
	waitForSubscribers(t, emitter, 1)

	emitter.Publish([]models.Event{
		{Type: models.EventTokenIssued, LocationID: "other", Seq: 1},
		{Type: models.EventServeAdvanced, LocationID: "clinic", Seq: 2},
	})
	select {
	case msg := <-session.sent:
		parsed, ok := decodeEnvelope(msg)
		if !ok || parsed.Event.LocationID != "clinic" || parsed.Type != models.EventServeAdvanced {
			t.Fatalf("unexpected message %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}

	close(session.incoming)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("session did not stop")
	}
	if stats := emitter.Stats(); stats.Subscribers != 0 {
		t.Fatalf("expected subscription removed, got %d", stats.Subscribers)
	}
}

func TestRealtimeClosesOnInvalidMessage(t *testing.T) {
	emitter := events.NewEmitter(8, nil)
	session := newFakeSession()
	session.incoming <- `garbage`
	serveRealtime(session, emitter, nil)

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed != 4000 {
		t.Fatalf("expected close 4000, got %d", session.closed)
	}
}

func waitForSubscribers(t *testing.T, emitter *events.Emitter, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if emitter.Stats().Subscribers == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers", want)
}

func decodeEnvelope(msg string) (eventEnvelope, bool) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(msg), &env); err != nil {
		return eventEnvelope{}, false
	}
	return env, true
}
