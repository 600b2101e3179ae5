package api

import (
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func requestEntry(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	status, err := services.RequestEntry(meeting, user)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(status)
}

func listEntryRequests(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	entries, err := services.ListPendingEntries(meeting, user)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(entries)
}

func allowEntry(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if err := services.AllowEntry(meeting, user, c.Params("user")); err != nil {
		return serviceError(err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func denyEntry(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	if err := services.DenyEntry(meeting, user, c.Params("user")); err != nil {
		return serviceError(err)
	}
	return c.SendStatus(fiber.StatusOK)
}
