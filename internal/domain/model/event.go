package model

import (
	"encoding/json"
	"time"
)

// EventType tags a change notification on the streaming channel.
type EventType string

// Recognized event types. Anything else is ignored by the dispatcher.
const (
	EventGoalCreated     EventType = "goal_created"
	EventGoalUpdated     EventType = "goal_updated"
	EventProgressUpdated EventType = "progress_updated"
	EventGoalDeleted     EventType = "goal_deleted"
)

// Envelope is the wire shape of every inbound frame: {type, data}.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ProgressUpdatedData is the data of a progress_updated event.
type ProgressUpdatedData struct {
	GoalID      int            `json:"goal_id"`
	UpdatedGoal *Goal          `json:"updated_goal"`
	Progress    *ProgressEntry `json:"progress,omitempty"`
	Feedback    string         `json:"feedback,omitempty"`
}

// GoalDeletedData is the data of a goal_deleted event.
type GoalDeletedData struct {
	GoalID      int   `json:"goal_id"`
	DeletedGoal *Goal `json:"deleted_goal,omitempty"`
}

// Origin says where an event came from.
type Origin int

const (
	// OriginStream events arrived over the WebSocket.
	OriginStream Origin = iota
	// OriginLocal events confirm a mutation this client made through the API.
	OriginLocal
)

// Event is a decoded change notification. Goal is set for created, updated
// and progress_updated events; GoalID is always set.
type Event struct {
	Type     EventType
	GoalID   int
	Goal     *Goal
	Feedback string
	Origin   Origin
}

// ConnState is the streaming connection state.
type ConnState int

const (
	Connecting ConnState = iota
	Connected
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// MarshalText renders the state name in JSON and logs.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InboundKind discriminates items on the inbound queue.
type InboundKind int

const (
	// InboundFrame carries a raw text frame from the connection.
	InboundFrame InboundKind = iota
	// InboundState carries a connection state transition.
	InboundState
	// InboundLocal carries an already decoded local event.
	InboundLocal
)

// Inbound is one item flowing from the connection (or controller) to the
// dispatcher, in arrival order.
type Inbound struct {
	Kind       InboundKind
	Frame      []byte
	State      ConnState
	Event      *Event
	ReceivedAt time.Time
}
