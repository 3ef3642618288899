package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"qms/queue-engine/internal/events"
	"qms/queue-engine/internal/models"

	"github.com/igm/sockjs-go/sockjs"
)

type SubscribeMessage struct {
	Action     string   `json:"action"`
	LocationID string   `json:"location_id"`
	OwnerID    string   `json:"owner_id"`
	Types      []string `json:"types,omitempty"`
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	msg.LocationID = strings.TrimSpace(msg.LocationID)
	msg.OwnerID = strings.TrimSpace(msg.OwnerID)
	if msg.Action == "subscribe" && msg.LocationID == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

// realtimeSession is the part of sockjs.Session the pump uses.
type realtimeSession interface {
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

// NewRealtimeHandler streams emitter events to SockJS clients mounted under
// prefix. A client receives nothing until it subscribes to a location.
func NewRealtimeHandler(prefix string, emitter *events.Emitter, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		serveRealtime(session, emitter, logger)
	})
}

func serveRealtime(session realtimeSession, emitter *events.Emitter, logger *slog.Logger) {
	var sub *events.Subscription
	done := make(chan struct{})
	defer func() {
		close(done)
		if sub != nil {
			emitter.Unsubscribe(sub)
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			_ = session.Close(4000, "invalid message")
			return
		}
		if parsed.Action == "unsubscribe" {
			if sub != nil {
				emitter.UpdateFilter(sub, events.Filter{LocationID: unmatchedLocation})
			}
			continue
		}

		filter := events.Filter{LocationID: parsed.LocationID, OwnerID: parsed.OwnerID, Types: parsed.Types}
		if sub != nil {
			emitter.UpdateFilter(sub, filter)
			continue
		}
		sub = emitter.Subscribe(filter)
		go forwardEvents(session, sub, done, logger)
	}
}

// unmatchedLocation parks a subscription without tearing down its writer.
const unmatchedLocation = "\x00"

func forwardEvents(session realtimeSession, sub *events.Subscription, done <-chan struct{}, logger *slog.Logger) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(envelope(event))
			if err != nil {
				logger.Warn("marshal realtime event", "type", event.Type, "error", err)
				continue
			}
			if err := session.Send(string(payload)); err != nil {
				return
			}
		}
	}
}

type eventEnvelope struct {
	Type  string       `json:"type"`
	Event models.Event `json:"event"`
}

func envelope(event models.Event) eventEnvelope {
	return eventEnvelope{Type: event.Type, Event: event}
}
