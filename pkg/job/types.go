// Package job models one agent job: its assignment, the room it joins,
// the one-shot shutdown signal and the LiveKit room adapter.
package job

import (
	"context"
	"errors"
	"time"
)

const (
	// FallbackAgentIdentity is reported when neither the job nor the local participant carries an identity.
	FallbackAgentIdentity = "unknown-agent"

	// FallbackRoomName is used in log context before a room name is known.
	FallbackRoomName = "unknown"

	// ShutdownHookTimeout bounds how long Shutdown waits for callbacks.
	ShutdownHookTimeout = 5 * time.Second

	// AssignmentTimeout mirrors the server side assignment window.
	AssignmentTimeout = 7500 * time.Millisecond
)

var (
	ErrAlreadyConnected = errors.New("job already connected to a room")
	ErrNotConnected     = errors.New("room not connected")
	ErrNoConnector      = errors.New("job has no room connector")
)

// AutoSubscribe selects which remote tracks are subscribed on connect.
type AutoSubscribe int

const (
	SubscribeAll AutoSubscribe = iota
	SubscribeAudioOnly
	SubscribeNone
)

func (a AutoSubscribe) String() string {
	switch a {
	case SubscribeAll:
		return "subscribe_all"
	case SubscribeAudioOnly:
		return "audio_only"
	case SubscribeNone:
		return "subscribe_none"
	default:
		return "unknown"
	}
}

// Info describes one job assignment.
type Info struct {
	// ID is the unique identifier for this job
	ID string

	// RoomName is the LiveKit room this job is assigned to
	RoomName string

	// AgentIdentity is the participant identity granted to the agent, if the dispatcher supplied one.
	AgentIdentity *string

	// URL and Token are used by the LiveKit connector to join the room.
	URL   string
	Token string

	// Metadata is the dispatch metadata attached to the job.
	Metadata string
}

// LocalParticipant is the agent's own presence in the room.
type LocalParticipant interface {
	Identity() string
	SetMetadata(ctx context.Context, metadata string) error
}

// Room is the real-time channel the job joins. It is observed, never owned.
type Room interface {
	Name() string
	LocalParticipant() LocalParticipant
	// OnDisconnected registers fn to run when the room connection ends.
	OnDisconnected(fn func())
	Disconnect()
}

// EventSource is implemented by rooms that report participant and track events.
type EventSource interface {
	Subscribe(t EventType, fn func(Event))
}

// Connector opens a room connection for a job.
type Connector interface {
	Connect(ctx context.Context, info Info, subscribe AutoSubscribe) (Room, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, info Info, subscribe AutoSubscribe) (Room, error)

func (f ConnectorFunc) Connect(ctx context.Context, info Info, subscribe AutoSubscribe) (Room, error) {
	return f(ctx, info, subscribe)
}
