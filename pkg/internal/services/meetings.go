package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	localCache "git.solsynth.dev/hypernet/meeting/pkg/internal/cache"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var (
	ErrMeetingNotStarted = errors.New("meeting has not started yet")
	ErrMeetingEnded      = errors.New("the call has been ended by the host")
	ErrWrongPassword     = errors.New("wrong meeting password")
	ErrNotHost           = errors.New("only the meeting host can do this")
	ErrPersonalRoom      = errors.New("personal rooms cannot be ended for everyone")
)

type MeetingListType = string

const (
	MeetingListUpcoming = MeetingListType("upcoming")
	MeetingListEnded    = MeetingListType("ended")
)

type NewMeetingRequest struct {
	Description string     `json:"description" validate:"max=4096"`
	StartsAt    *time.Time `json:"starts_at"`
	Password    string     `json:"password" validate:"max=128"`
	WaitingRoom bool       `json:"waiting_room"`
}

func GetMeetingCacheKey(id string) string {
	return fmt.Sprintf("meeting#%s", id)
}

func cacheMeeting(meeting models.Meeting) {
	if localCache.S == nil {
		return
	}
	marshal := marshaler.New(cache.New[any](localCache.S))
	_ = marshal.Set(
		context.Background(),
		GetMeetingCacheKey(meeting.ExternalID),
		meeting,
		store.WithExpiration(10*time.Minute),
		store.WithTags([]string{"meeting", GetMeetingCacheKey(meeting.ExternalID)}),
	)
}

func invalidMeetingCache(meeting models.Meeting) {
	if localCache.S == nil {
		return
	}
	marshal := marshaler.New(cache.New[any](localCache.S))
	_ = marshal.Delete(context.Background(), GetMeetingCacheKey(meeting.ExternalID))
}

// CompleteMeeting fills the fields that are not stored.
func CompleteMeeting(meeting models.Meeting) models.Meeting {
	meeting.Link = meeting.BuildLink(viper.GetString("base_url"))
	meeting.HasPassword = len(meeting.Password) > 0
	meeting.State = meeting.StateAt(time.Now())
	return meeting
}

func GetMeeting(id string) (models.Meeting, error) {
	if localCache.S != nil {
		marshal := marshaler.New(cache.New[any](localCache.S))
		if val, err := marshal.Get(context.Background(), GetMeetingCacheKey(id), new(models.Meeting)); err == nil {
			return CompleteMeeting(*val.(*models.Meeting)), nil
		}
	}

	var meeting models.Meeting
	if err := database.C.
		Where(models.Meeting{ExternalID: id}).
		Preload("CreatedBy").
		First(&meeting).Error; err != nil {
		return meeting, err
	}

	cacheMeeting(meeting)
	return CompleteMeeting(meeting), nil
}

func ListMeetings(user models.Account, kind MeetingListType) ([]models.Meeting, error) {
	now := time.Now()
	tx := database.C.Where(models.Meeting{CreatedByID: user.ID}).Preload("CreatedBy")

	switch kind {
	case MeetingListUpcoming:
		tx = tx.Where("ended_at IS NULL AND starts_at > ?", now).Order("starts_at ASC")
	case MeetingListEnded:
		tx = tx.Where("ended_at IS NOT NULL OR starts_at <= ?", now).Order("starts_at DESC")
	default:
		tx = tx.Order("starts_at DESC")
	}

	var meetings []models.Meeting
	if err := tx.Find(&meetings).Error; err != nil {
		return meetings, err
	}
	return lo.Map(meetings, func(item models.Meeting, _ int) models.Meeting {
		return CompleteMeeting(item)
	}), nil
}

func NewMeeting(owner models.Account, req NewMeetingRequest) (models.Meeting, error) {
	meeting := models.Meeting{
		ExternalID:  uuid.NewString(),
		Description: req.Description,
		StartsAt:    time.Now(),
		Password:    req.Password,
		WaitingRoom: req.WaitingRoom,
		CreatedByID: owner.ID,
	}
	if req.StartsAt != nil && !req.StartsAt.IsZero() {
		meeting.StartsAt = *req.StartsAt
	}
	if len(meeting.Description) == 0 {
		meeting.Description = models.DefaultMeetingDescription
	}

	if err := database.C.Omit("CreatedBy").Create(&meeting).Error; err != nil {
		return meeting, err
	}
	meeting.CreatedBy = owner

	return CompleteMeeting(meeting), nil
}

// GetOrCreatePersonalRoom returns the room whose id is the account id.
func GetOrCreatePersonalRoom(owner models.Account) (models.Meeting, error) {
	var meeting models.Meeting
	err := database.C.
		Where(models.Meeting{ExternalID: owner.ID, CreatedByID: owner.ID}).
		Attrs(models.Meeting{
			StartsAt:   time.Now(),
			IsPersonal: true,
		}).
		Omit("CreatedBy").
		FirstOrCreate(&meeting).Error
	if err != nil {
		return meeting, err
	}

	// A personal room is reusable, so a previous end is cleared.
	if meeting.EndedAt != nil {
		meeting.EndedAt = nil
		if err := database.C.Model(&meeting).Update("ended_at", nil).Error; err != nil {
			return meeting, err
		}
		invalidMeetingCache(meeting)
	}

	meeting.CreatedBy = owner
	return CompleteMeeting(meeting), nil
}

type PersonalRoomInfo struct {
	Topic     string `json:"topic"`
	MeetingID string `json:"meeting_id"`
	Link      string `json:"link"`
}

func GetPersonalRoomInfo(owner models.Account) PersonalRoomInfo {
	meeting := models.Meeting{ExternalID: owner.ID, IsPersonal: true}
	name := owner.Name
	if len(name) == 0 {
		name = owner.DisplayName()
	}
	return PersonalRoomInfo{
		Topic:     fmt.Sprintf("%s's Meeting Room", name),
		MeetingID: owner.ID,
		Link:      meeting.BuildLink(viper.GetString("base_url")),
	}
}

func CheckJoinable(meeting models.Meeting, now time.Time) error {
	switch meeting.StateAt(now) {
	case models.MeetingStateScheduled:
		return fmt.Errorf("%w, it is scheduled for %s", ErrMeetingNotStarted, meeting.StartsAt.Format(time.RFC1123))
	case models.MeetingStateEnded:
		return ErrMeetingEnded
	}
	return nil
}

// VerifyPassword reports whether the input unlocks the meeting.
// Meetings without a password are always unlocked.
func VerifyPassword(meeting models.Meeting, input string) error {
	if len(meeting.Password) == 0 {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(meeting.Password), []byte(input)) != 1 {
		return ErrWrongPassword
	}
	return nil
}

func EnsureRoom(meeting models.Meeting) error {
	if Lk == nil {
		return nil
	}
	_, err := Lk.CreateRoom(context.Background(), &livekit.CreateRoomRequest{
		Name:            meeting.ExternalID,
		EmptyTimeout:    viper.GetUint32("calling.empty_timeout_duration"),
		MaxParticipants: viper.GetUint32("calling.max_participants"),
	})
	if err != nil {
		return fmt.Errorf("remote livekit error: %v", err)
	}
	return nil
}

func EndMeeting(meeting models.Meeting, user models.Account) (models.Meeting, error) {
	if !meeting.IsHost(user.ID) {
		return meeting, ErrNotHost
	} else if meeting.IsPersonal {
		return meeting, ErrPersonalRoom
	} else if meeting.EndedAt != nil {
		return meeting, ErrMeetingEnded
	}

	meeting.EndedAt = lo.ToPtr(time.Now())

	if err := database.C.Model(&meeting).Update("ended_at", meeting.EndedAt).Error; err != nil {
		return meeting, err
	}
	invalidMeetingCache(meeting)

	_, _ = NewEvent(models.Event{
		Type:      models.EventCallEnded,
		Body:      map[string]any{"last": meeting.EndedAt.Unix() - meeting.StartsAt.Unix()},
		SenderID:  user.ID,
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})

	// The room goes away after the event so clients inside it receive the end.
	if Lk != nil {
		if _, err := Lk.DeleteRoom(context.Background(), &livekit.DeleteRoomRequest{
			Room: meeting.ExternalID,
		}); err != nil {
			log.Error().Err(err).Msg("Unable to delete room at livekit side")
		}
	}

	return CompleteMeeting(meeting), nil
}
