package api

import (
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func listParticipants(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	meeting := c.Locals("meeting").(models.Meeting)

	participants, err := services.GetMeetingParticipants(meeting)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(participants)
}

func kickParticipant(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if err := services.KickParticipantInMeeting(meeting, user, c.Params("identity")); err != nil {
		return serviceError(err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func muteParticipant(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	var data struct {
		TrackSid string `json:"track_sid" validate:"required"`
		Muted    bool   `json:"muted"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	track, err := services.MuteParticipantTrack(meeting, user, c.Params("identity"), data.TrackSid, data.Muted)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(track)
}
