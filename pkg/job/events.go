package job

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
)

// EventType represents the type of room event.
type EventType string

const (
	EventParticipantConnected    EventType = "participant_connected"
	EventParticipantDisconnected EventType = "participant_disconnected"
	EventTrackPublished          EventType = "track_published"
	EventTrackSubscribed         EventType = "track_subscribed"
	EventTrackUnsubscribed       EventType = "track_unsubscribed"
	EventReconnecting            EventType = "reconnecting"
	EventReconnected             EventType = "reconnected"

	// EventDisconnected fires once when the room connection ends.
	EventDisconnected EventType = "disconnected"
)

// Event represents a room event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Participant associated with the event (if applicable)
	Participant *livekit.ParticipantInfo

	// Track associated with the event (if applicable)
	Track *livekit.TrackInfo
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithParticipant adds participant information to the event.
func (e Event) WithParticipant(identity, sid string) Event {
	e.Participant = &livekit.ParticipantInfo{Identity: identity, Sid: sid}
	return e
}

// WithTrack adds track information to the event.
func (e Event) WithTrack(sid, name string, kind livekit.TrackType) Event {
	e.Track = &livekit.TrackInfo{Sid: sid, Name: name, Type: kind}
	return e
}

// eventHub fans room events out to subscribers. Handlers run on the emitting
// goroutine and must not block.
type eventHub struct {
	mu       sync.RWMutex
	handlers map[EventType][]func(Event)
	logger   *slog.Logger
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		handlers: make(map[EventType][]func(Event)),
		logger:   logger,
	}
}

func (h *eventHub) subscribe(t EventType, fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[t] = append(h.handlers[t], fn)
}

func (h *eventHub) emit(e Event) {
	h.mu.RLock()
	handlers := slices.Clone(h.handlers[e.Type])
	h.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("Room event handler panicked",
						slog.String("event_type", string(e.Type)),
						slog.Any("panic", r))
				}
			}()
			fn(e)
		}()
	}
}
