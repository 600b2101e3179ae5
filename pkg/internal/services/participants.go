package services

import (
	"context"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/livekit/protocol/livekit"
)

func GetMeetingParticipants(meeting models.Meeting) ([]*livekit.ParticipantInfo, error) {
	res, err := Lk.ListParticipants(context.Background(), &livekit.ListParticipantsRequest{
		Room: meeting.ExternalID,
	})
	if err != nil {
		return nil, err
	}
	return res.Participants, nil
}

func KickParticipantInMeeting(meeting models.Meeting, host models.Account, identity string) error {
	if !meeting.IsHost(host.ID) {
		return ErrNotHost
	}
	_, err := Lk.RemoveParticipant(context.Background(), &livekit.RoomParticipantIdentity{
		Room:     meeting.ExternalID,
		Identity: identity,
	})
	return err
}

// MuteParticipantTrack toggles one published track of a participant.
func MuteParticipantTrack(meeting models.Meeting, host models.Account, identity, trackSid string, muted bool) (*livekit.TrackInfo, error) {
	if !meeting.IsHost(host.ID) {
		return nil, ErrNotHost
	}
	res, err := Lk.MutePublishedTrack(context.Background(), &livekit.MuteRoomTrackRequest{
		Room:     meeting.ExternalID,
		Identity: identity,
		TrackSid: trackSid,
		Muted:    muted,
	})
	if err != nil {
		return nil, err
	}
	return res.Track, nil
}
