package models

import (
	jsoniter "github.com/json-iterator/go"
	"gorm.io/datatypes"
)

const (
	EventRequestEntry     = "request_entry"
	EventAllowEntry       = "allow_entry"
	EventDenyEntry        = "deny_entry"
	EventReaction         = "reaction"
	EventCustom           = "custom"
	EventCallEnded        = "call.ended"
	EventRecordingStarted = "call.recording_started"
	EventRecordingStopped = "call.recording_stopped"
)

// ReservedEventTypes can only be emitted by the server itself.
var ReservedEventTypes = []string{
	EventRequestEntry,
	EventAllowEntry,
	EventDenyEntry,
	EventReaction,
	EventCallEnded,
	EventRecordingStarted,
	EventRecordingStopped,
}

type Event struct {
	BaseModel

	Type      string            `json:"type"`
	Body      datatypes.JSONMap `json:"body"`
	SenderID  string            `json:"sender_id"`
	Sender    Account           `json:"sender" gorm:"foreignKey:SenderID"`
	TargetID  *string           `json:"target_id,omitempty"`
	MeetingID uint              `json:"meeting_id"`
	Meeting   Meeting           `json:"-"`
}

// Event Payloads

type EntryRequestBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EntryDecisionBody struct {
	ID string `json:"id"`
}

type ReactionBody struct {
	Type   string `json:"type"`
	Custom struct {
		Emoji string `json:"emoji"`
	} `json:"custom"`
}

type StreamPackage struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload"`
}

func (v StreamPackage) Marshal() []byte {
	data, _ := jsoniter.Marshal(v)
	return data
}
