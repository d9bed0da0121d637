// Package realtime implements the socket session layer: presence of
// authenticated users, per-job chat rooms and targeted or room-wide event
// delivery over WebSocket connections.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Event names of the socket protocol.
const (
	EventAuthenticate     = "authenticate"
	EventProposeJob       = "propose:job"
	EventProposalReceived = "proposal:received"
	EventProposalResponse = "proposal:response"
	EventProposalUpdate   = "proposal:update"
	EventMessageNew       = "message:new"
	EventMessageSend      = "message:send"
	EventJoinJob          = "join:job"
	EventDisconnect       = "disconnect"
)

// Event is the frame exchanged in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Conn is a live connection events can be pushed to. Send never blocks and
// reports false when the event was not queued.
type Conn interface {
	ID() string
	Send(Event) bool
}
