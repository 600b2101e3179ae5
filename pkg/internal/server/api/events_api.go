package api

import (
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func listEvent(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)
	take := c.QueryInt("take", 0)
	offset := c.QueryInt("offset", 0)

	if !meeting.IsHost(user.ID) {
		return serviceError(services.ErrNotHost)
	}

	events, err := services.ListEvent(meeting, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(events)
}

func newCustomEvent(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	var data struct {
		Type string         `json:"type" validate:"required,max=64"`
		Data map[string]any `json:"data"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	event, err := services.SendCustomEvent(meeting, user, data.Type, data.Data)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(event)
}

func sendReaction(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	var data struct {
		Emoji string `json:"emoji" validate:"required,max=32"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	event, err := services.SendReaction(meeting, user, data.Emoji)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(event)
}
