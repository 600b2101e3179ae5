package services

import (
	"context"
	"errors"
	"time"

	localCache "git.solsynth.dev/hypernet/meeting/pkg/internal/cache"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var (
	ErrNotAdmitted = errors.New("the host has not let you in yet")
	ErrEntryDenied = errors.New("the host has denied your entry")
)

// Waiting is the waiting room store in use.
var Waiting WaitingStore = NewMemoryWaitingStore(EntryRequestTTL())

func SetupWaitingRoom() {
	if localCache.R != nil {
		Waiting = NewRedisWaitingStore(localCache.R, EntryRequestTTL())
	} else {
		Waiting = NewMemoryWaitingStore(EntryRequestTTL())
	}
}

func EntryPollInterval() time.Duration {
	seconds := viper.GetInt("admission.poll_interval")
	if seconds <= 0 {
		seconds = 3
	}
	return time.Duration(seconds) * time.Second
}

// EntryRequestTTL is how long a request stays listed without a new poll.
func EntryRequestTTL() time.Duration {
	seconds := viper.GetInt("admission.request_ttl")
	if seconds <= 0 {
		seconds = 15
	}
	return time.Duration(seconds) * time.Second
}

type EntryStatus struct {
	Admitted     bool  `json:"admitted"`
	Denied       bool  `json:"denied"`
	PollInterval int64 `json:"poll_interval"`
}

// RequestEntry is called on every poll of a waiting participant.
// Once denied, a user stays out of the waiting list until the host allows them.
func RequestEntry(meeting models.Meeting, user models.Account) (EntryStatus, error) {
	status := EntryStatus{PollInterval: int64(EntryPollInterval() / time.Second)}

	if admitted, err := IsAdmitted(meeting, user); err != nil {
		return status, err
	} else if admitted {
		status.Admitted = true
		return status, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if denied, err := Waiting.IsDenied(ctx, meeting.ExternalID, user.ID); err != nil {
		return status, err
	} else if denied {
		status.Denied = true
		return status, nil
	}

	now := time.Now()
	created, err := Waiting.Put(ctx, meeting.ExternalID, WaitingEntry{
		ID:          user.ID,
		Name:        user.DisplayName(),
		RequestedAt: now,
		LastSeenAt:  now,
	})
	if err != nil || !created {
		return status, err
	}

	var body map[string]any
	models.FitStruct(models.EntryRequestBody{ID: user.ID, Name: user.DisplayName()}, &body)
	_, err = NewEvent(models.Event{
		Type:      models.EventRequestEntry,
		Body:      body,
		SenderID:  user.ID,
		TargetID:  lo.ToPtr(meeting.CreatedByID),
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})

	return status, err
}

// CheckEntryGate is what a visitor passes before they may even ask to enter:
// the meeting is open and, unless they host it, they know the password.
func CheckEntryGate(meeting models.Meeting, user models.Account, password string, now time.Time) error {
	if err := CheckJoinable(meeting, now); err != nil {
		return err
	}
	if meeting.IsHost(user.ID) {
		return nil
	}
	return VerifyPassword(meeting, password)
}

// CheckMeetingAccess decides whether a user takes part in the meeting.
// On top of the entry gate, waiting room meetings need the host's admission.
func CheckMeetingAccess(meeting models.Meeting, user models.Account, password string, now time.Time) error {
	if err := CheckEntryGate(meeting, user, password, now); err != nil {
		return err
	}

	if admitted, err := IsAdmitted(meeting, user); err != nil {
		return err
	} else if admitted {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if denied, err := Waiting.IsDenied(ctx, meeting.ExternalID, user.ID); err != nil {
		return err
	} else if denied {
		return ErrEntryDenied
	}
	return ErrNotAdmitted
}

func IsAdmitted(meeting models.Meeting, user models.Account) (bool, error) {
	if meeting.IsHost(user.ID) || !meeting.WaitingRoom {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Waiting.IsAdmitted(ctx, meeting.ExternalID, user.ID)
}

func ListPendingEntries(meeting models.Meeting, host models.Account) ([]WaitingEntry, error) {
	if !meeting.IsHost(host.ID) {
		return nil, ErrNotHost
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := Waiting.List(ctx, meeting.ExternalID, time.Now().Add(-EntryRequestTTL()))
	if entries == nil {
		entries = []WaitingEntry{}
	}
	return entries, err
}

func AllowEntry(meeting models.Meeting, host models.Account, userId string) error {
	if !meeting.IsHost(host.ID) {
		return ErrNotHost
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Waiting.Admit(ctx, meeting.ExternalID, userId); err != nil {
		return err
	}

	return emitEntryDecision(meeting, host, userId, models.EventAllowEntry)
}

func DenyEntry(meeting models.Meeting, host models.Account, userId string) error {
	if !meeting.IsHost(host.ID) {
		return ErrNotHost
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Waiting.Deny(ctx, meeting.ExternalID, userId); err != nil {
		return err
	}

	return emitEntryDecision(meeting, host, userId, models.EventDenyEntry)
}

func emitEntryDecision(meeting models.Meeting, host models.Account, userId string, eventType string) error {
	var body map[string]any
	models.FitStruct(models.EntryDecisionBody{ID: userId}, &body)
	_, err := NewEvent(models.Event{
		Type:      eventType,
		Body:      body,
		SenderID:  host.ID,
		TargetID:  lo.ToPtr(userId),
		MeetingID: meeting.ID,
		Meeting:   meeting,
	})
	return err
}
