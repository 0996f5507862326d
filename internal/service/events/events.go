package events

import (
	"encoding/json"
	"time"
)

// Event types published for each camera.
const (
	TypeState  = "state"
	TypeError  = "error"
	TypeMotion = "motion"
)

// Event describes something that happened to a camera session.
type Event struct {
	Type         string    `json:"type"`
	Camera       string    `json:"camera"`
	Session      string    `json:"session,omitempty"`
	State        string    `json:"state,omitempty"`
	Message      string    `json:"message,omitempty"`
	MotionPixels int       `json:"motionPixels,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter publishes events outside the process.
type Emitter interface {
	Publish(event Event) error
	Disconnect() error
}

// NopEmitter drops every event. Used when no broker is configured.
type NopEmitter struct{}

func (NopEmitter) Publish(Event) error { return nil }
func (NopEmitter) Disconnect() error   { return nil }
