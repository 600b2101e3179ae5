package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

var ErrReservedEvent = errors.New("this event type is reserved")

func ListEvent(meeting models.Meeting, take int, offset int) ([]models.Event, error) {
	if take > 100 || take <= 0 {
		take = 100
	}

	var events []models.Event
	if err := database.C.
		Where(models.Event{MeetingID: meeting.ID}).
		Limit(take).Offset(offset).
		Order("created_at DESC").
		Preload("Sender").
		Find(&events).Error; err != nil {
		return events, err
	} else {
		return events, nil
	}
}

func NewEvent(event models.Event) (models.Event, error) {
	meeting := event.Meeting
	if err := database.C.Omit(clause.Associations).Create(&event).Error; err != nil {
		return event, err
	}

	pkg := models.StreamPackage{
		Action:  "events.new",
		Payload: event,
	}
	if event.TargetID != nil {
		PushCommand(event.MeetingID, pkg, *event.TargetID)
	} else {
		PushCommand(event.MeetingID, pkg)
		RelayEventToRoom(meeting, event)
	}

	return event, nil
}

// RelayEventToRoom forwards an event to everyone already inside the
// LiveKit room as a reliable data packet. Failures are only logged.
func RelayEventToRoom(meeting models.Meeting, event models.Event) {
	if Lk == nil || len(meeting.ExternalID) == 0 {
		return
	}

	data, err := jsoniter.Marshal(map[string]any{
		"type":   event.Type,
		"sender": event.SenderID,
		"data":   event.Body,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Lk.SendData(ctx, &livekit.SendDataRequest{
		Room:  meeting.ExternalID,
		Data:  data,
		Kind:  livekit.DataPacket_RELIABLE,
		Topic: lo.ToPtr(event.Type),
	})
	if err != nil {
		log.Warn().Err(err).Str("meeting", meeting.ExternalID).Str("type", event.Type).Msg("Unable to relay event to livekit room...")
	}
}

func SendReaction(meeting models.Meeting, sender models.Account, emoji string) (models.Event, error) {
	emoji = strings.TrimSpace(emoji)
	if len(emoji) == 0 {
		return models.Event{}, fmt.Errorf("reaction emoji is required")
	}

	var body models.ReactionBody
	body.Type = models.EventReaction
	body.Custom.Emoji = emoji

	var parsed map[string]any
	models.FitStruct(body, &parsed)

	return NewEvent(models.Event{
		Type:      models.EventReaction,
		Body:      parsed,
		SenderID:  sender.ID,
		Sender:    sender,
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})
}

func SendCustomEvent(meeting models.Meeting, sender models.Account, eventType string, data map[string]any) (models.Event, error) {
	if lo.Contains(models.ReservedEventTypes, eventType) {
		return models.Event{}, ErrReservedEvent
	}
	if data == nil {
		data = map[string]any{}
	}

	return NewEvent(models.Event{
		Type:      eventType,
		Body:      data,
		SenderID:  sender.ID,
		Sender:    sender,
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})
}
