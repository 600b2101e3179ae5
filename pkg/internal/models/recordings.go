package models

import "time"

type RecordingStatus = string

const (
	RecordingStatusRecording  = RecordingStatus("recording")
	RecordingStatusProcessing = RecordingStatus("processing")
	RecordingStatusCompleted  = RecordingStatus("completed")
	RecordingStatusFailed     = RecordingStatus("failed")
)

type Recording struct {
	BaseModel

	EgressID  string          `json:"egress_id" gorm:"uniqueIndex"`
	Filename  string          `json:"filename"`
	URL       string          `json:"url"`
	StartTime *time.Time      `json:"start_time"`
	EndTime   *time.Time      `json:"end_time"`
	Duration  int64           `json:"duration"`
	Size      int64           `json:"size"`
	Status    RecordingStatus `json:"status"`
	MeetingID uint            `json:"meeting_id"`
	Meeting   *Meeting        `json:"meeting,omitempty"`
}

func (v Recording) IsFinal() bool {
	return v.Status == RecordingStatusCompleted || v.Status == RecordingStatusFailed
}

// Title is the card heading, the filename cut to twenty characters.
func (v Recording) Title() string {
	runes := []rune(v.Filename)
	if len(runes) == 0 {
		return "No Description"
	}
	if len(runes) > 20 {
		runes = runes[:20]
	}
	return string(runes)
}
