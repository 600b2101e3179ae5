package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

var (
	ErrAlreadyRecording = errors.New("this meeting is already being recorded")
	ErrNotRecording     = errors.New("this meeting is not being recorded")
)

func GetActiveRecording(meeting models.Meeting) (models.Recording, error) {
	var recording models.Recording
	err := database.C.
		Where(models.Recording{MeetingID: meeting.ID, Status: models.RecordingStatusRecording}).
		Order("created_at DESC").
		First(&recording).Error
	return recording, err
}

func StartRecording(meeting models.Meeting, host models.Account, layout models.Layout) (models.Recording, error) {
	if !meeting.IsHost(host.ID) {
		return models.Recording{}, ErrNotHost
	}
	if err := CheckJoinable(meeting, time.Now()); err != nil {
		return models.Recording{}, err
	}
	if _, err := GetActiveRecording(meeting); err == nil {
		return models.Recording{}, ErrAlreadyRecording
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Recording{}, err
	}

	now := time.Now()
	filepath := path.Join(
		viper.GetString("recording.file_prefix"),
		meeting.ExternalID,
		fmt.Sprintf("%s.mp4", now.UTC().Format("20060102-150405")),
	)

	info, err := Eg.StartRoomCompositeEgress(context.Background(), &livekit.RoomCompositeEgressRequest{
		RoomName: meeting.ExternalID,
		Layout:   models.EgressLayout(layout),
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_MP4,
			Filepath: filepath,
		}},
	})
	if err != nil {
		return models.Recording{}, fmt.Errorf("remote livekit error: %v", err)
	}

	recording := models.Recording{
		EgressID:  info.GetEgressId(),
		Filename:  path.Base(filepath),
		StartTime: &now,
		Status:    models.RecordingStatusRecording,
		MeetingID: meeting.ID,
	}
	if err := database.C.Create(&recording).Error; err != nil {
		return recording, err
	}

	_, _ = NewEvent(models.Event{
		Type:      models.EventRecordingStarted,
		Body:      map[string]any{"recording_id": recording.ID},
		SenderID:  host.ID,
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})

	return recording, nil
}

func StopRecording(meeting models.Meeting, host models.Account) (models.Recording, error) {
	if !meeting.IsHost(host.ID) {
		return models.Recording{}, ErrNotHost
	}
	recording, err := GetActiveRecording(meeting)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return recording, ErrNotRecording
	} else if err != nil {
		return recording, err
	}

	info, err := Eg.StopEgress(context.Background(), &livekit.StopEgressRequest{
		EgressId: recording.EgressID,
	})
	if err != nil {
		return recording, fmt.Errorf("remote livekit error: %v", err)
	}

	recording.Status = models.RecordingStatusProcessing
	ApplyEgressInfo(&recording, info)
	if err := database.C.Save(&recording).Error; err != nil {
		return recording, err
	}

	_, _ = NewEvent(models.Event{
		Type:      models.EventRecordingStopped,
		Body:      map[string]any{"recording_id": recording.ID},
		SenderID:  host.ID,
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})

	return recording, nil
}

// ApplyEgressInfo copies the egress result into the recording.
func ApplyEgressInfo(recording *models.Recording, info *livekit.EgressInfo) {
	if info == nil {
		return
	}

	switch info.GetStatus() {
	case livekit.EgressStatus_EGRESS_COMPLETE:
		recording.Status = models.RecordingStatusCompleted
	case livekit.EgressStatus_EGRESS_FAILED, livekit.EgressStatus_EGRESS_ABORTED:
		recording.Status = models.RecordingStatusFailed
	case livekit.EgressStatus_EGRESS_ENDING:
		recording.Status = models.RecordingStatusProcessing
	}

	if info.GetStartedAt() > 0 {
		recording.StartTime = lo.ToPtr(time.Unix(0, info.GetStartedAt()))
	}
	if info.GetEndedAt() > 0 {
		recording.EndTime = lo.ToPtr(time.Unix(0, info.GetEndedAt()))
	}

	results := info.GetFileResults()
	if len(results) == 0 {
		return
	}
	file := results[0]
	if len(file.GetFilename()) > 0 {
		recording.Filename = path.Base(file.GetFilename())
	}
	recording.Size = file.GetSize()
	recording.Duration = file.GetDuration()

	if prefix := viper.GetString("recording.url_prefix"); len(prefix) > 0 && len(file.GetFilename()) > 0 {
		recording.URL = strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(file.GetFilename(), "/")
	} else if len(file.GetLocation()) > 0 {
		recording.URL = file.GetLocation()
	}
}

// SyncRecordings refreshes every unfinished recording from the egress listing.
func SyncRecordings() {
	if Eg == nil {
		return
	}

	var recordings []models.Recording
	if err := database.C.
		Where("status IN ?", []string{models.RecordingStatusRecording, models.RecordingStatusProcessing}).
		Find(&recordings).Error; err != nil {
		log.Error().Err(err).Msg("An error occurred when loading unfinished recordings...")
		return
	}

	var count int
	for _, recording := range recordings {
		res, err := Eg.ListEgress(context.Background(), &livekit.ListEgressRequest{
			EgressId: recording.EgressID,
		})
		if err != nil {
			log.Warn().Err(err).Str("egress", recording.EgressID).Msg("Unable to fetch egress info...")
			continue
		}
		if len(res.GetItems()) == 0 {
			continue
		}

		before := recording.Status
		ApplyEgressInfo(&recording, res.GetItems()[0])
		if err := database.C.Save(&recording).Error; err != nil {
			log.Error().Err(err).Uint("recording", recording.ID).Msg("Unable to save synced recording...")
			continue
		}
		if before != recording.Status {
			count++
		}
	}

	log.Debug().Int("total", len(recordings)).Int("changed", count).Msg("Synced unfinished recordings.")
}

// ListRecordings returns the playable recordings of meetings the user hosted.
func ListRecordings(user models.Account) ([]models.Recording, error) {
	var recordings []models.Recording
	err := database.C.
		Where("meeting_id IN (?)", database.C.
			Model(&models.Meeting{}).
			Select("id").
			Where("created_by_id = ?", user.ID)).
		Where("status = ? AND url <> ''", models.RecordingStatusCompleted).
		Preload("Meeting").
		Order("start_time DESC").
		Find(&recordings).Error
	return recordings, err
}
