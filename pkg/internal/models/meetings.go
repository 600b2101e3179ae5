package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
)

const DefaultMeetingDescription = "Instant Meeting"

type MeetingState = string

const (
	MeetingStateScheduled = MeetingState("scheduled")
	MeetingStateOpen      = MeetingState("open")
	MeetingStateEnded     = MeetingState("ended")
)

type Meeting struct {
	BaseModel

	ExternalID  string     `json:"external_id" gorm:"uniqueIndex"`
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Password    string     `json:"-"`
	WaitingRoom bool       `json:"waiting_room"`
	IsPersonal  bool       `json:"is_personal"`
	CreatedByID string     `json:"created_by_id"`
	CreatedBy   Account    `json:"created_by" gorm:"foreignKey:CreatedByID"`

	Recordings []Recording `json:"recordings,omitempty"`

	Link         string                     `json:"link" gorm:"-"`
	HasPassword  bool                       `json:"has_password" gorm:"-"`
	State        MeetingState               `json:"state" gorm:"-"`
	Participants []*livekit.ParticipantInfo `json:"participants,omitempty" gorm:"-"`
}

func (v Meeting) IsHost(accountID string) bool {
	return len(accountID) > 0 && v.CreatedByID == accountID
}

func (v Meeting) StateAt(now time.Time) MeetingState {
	if v.EndedAt != nil {
		return MeetingStateEnded
	}
	if v.StartsAt.After(now) {
		return MeetingStateScheduled
	}
	return MeetingStateOpen
}

// BuildLink returns the shareable address of the meeting page.
func (v Meeting) BuildLink(baseURL string) string {
	link := fmt.Sprintf("%s/meeting/%s", strings.TrimRight(baseURL, "/"), v.ExternalID)
	if v.IsPersonal {
		link += "?personal=true"
	}
	return link
}

type Layout = string

const (
	LayoutGrid         = Layout("grid")
	LayoutSpeakerLeft  = Layout("speaker-left")
	LayoutSpeakerRight = Layout("speaker-right")
)

var AvailableLayouts = []Layout{LayoutGrid, LayoutSpeakerLeft, LayoutSpeakerRight}

// ParseLayout accepts the labels shown in the layout menu as well,
// unknown values fall back to the speaker layout.
func ParseLayout(in string) Layout {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case LayoutGrid:
		return LayoutGrid
	case LayoutSpeakerRight:
		return LayoutSpeakerRight
	default:
		return LayoutSpeakerLeft
	}
}

// EgressLayout maps a call layout to the composite recorder template.
func EgressLayout(layout Layout) string {
	if layout == LayoutGrid {
		return "grid"
	}
	return "speaker"
}
