package api

import (
	"errors"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func meetingMiddleware(c *fiber.Ctx) error {
	meeting, err := services.GetMeeting(c.Params("meeting"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "meeting not found")
	} else if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	c.Locals("meeting", meeting)
	return c.Next()
}

// meetingPassword reads the password a visitor unlocked the meeting with.
// Websocket upgrades from a browser cannot carry headers, so the query is a fallback.
func meetingPassword(c *fiber.Ctx) string {
	if password := c.Get("X-Meeting-Password"); len(password) > 0 {
		return password
	}
	return c.Query("password")
}

// meetingGateMiddleware lets through visitors who may ask to enter.
func meetingGateMiddleware(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if err := services.CheckEntryGate(meeting, user, meetingPassword(c), time.Now()); err != nil {
		return serviceError(err)
	}
	return c.Next()
}

// meetingAccessMiddleware lets through the participants of the meeting.
func meetingAccessMiddleware(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if err := services.CheckMeetingAccess(meeting, user, meetingPassword(c), time.Now()); err != nil {
		return serviceError(err)
	}
	return c.Next()
}

// serviceError maps the service sentinels onto HTTP statuses.
func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrNotHost), errors.Is(err, services.ErrNotAdmitted), errors.Is(err, services.ErrEntryDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrWrongPassword):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrMeetingNotStarted), errors.Is(err, services.ErrMeetingEnded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrAlreadyRecording), errors.Is(err, services.ErrNotRecording):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrPersonalRoom), errors.Is(err, services.ErrReservedEvent):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrMissingCredentials):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
}

func listMeetings(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)

	meetings, err := services.ListMeetings(user, c.Query("type"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(meetings)
}

func getMeeting(c *fiber.Ctx) error {
	meeting := c.Locals("meeting").(models.Meeting)

	if meeting.State == models.MeetingStateOpen && services.Lk != nil {
		if participants, err := services.GetMeetingParticipants(meeting); err == nil {
			meeting.Participants = participants
		} else {
			log.Warn().Err(err).Str("meeting", meeting.ExternalID).Msg("Unable to fetch participants of meeting...")
		}
	}

	return c.JSON(meeting)
}

func getMeetingInfo(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if !meeting.IsHost(user.ID) {
		return serviceError(services.ErrNotHost)
	}

	return c.JSON(fiber.Map{
		"link":     meeting.Link,
		"password": meeting.Password,
	})
}

func createMeeting(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)

	var data services.NewMeetingRequest
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	meeting, err := services.NewMeeting(user, data)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(meeting)
}

func checkMeetingPassword(c *fiber.Ctx) error {
	meeting := c.Locals("meeting").(models.Meeting)

	var data struct {
		Password string `json:"password"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	if err := services.VerifyPassword(meeting, data.Password); err != nil {
		return serviceError(err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func exchangeMeetingToken(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	var data struct {
		Password string `json:"password"`
	}
	if len(c.Body()) > 0 {
		if err := exts.BindAndValidate(c, &data); err != nil {
			return err
		}
	}

	if len(data.Password) == 0 {
		data.Password = meetingPassword(c)
	}

	now := time.Now()
	if err := services.CheckMeetingAccess(meeting, user, data.Password, now); err != nil {
		return serviceError(err)
	}

	if err := services.EnsureRoom(meeting); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	tk, err := services.EncodeCallToken(user, meeting, now)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{
		"token":    tk,
		"endpoint": services.CallEndpoint(),
	})
}

func endMeeting(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if meeting, err := services.EndMeeting(meeting, user); err != nil {
		return serviceError(err)
	} else {
		return c.JSON(meeting)
	}
}
