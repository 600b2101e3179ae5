package api

import (
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
)

func listRecordings(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)

	recordings, err := services.ListRecordings(user)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(recordings)
}

func startRecording(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	var data struct {
		Layout string `json:"layout"`
	}
	if len(c.Body()) > 0 {
		if err := exts.BindAndValidate(c, &data); err != nil {
			return err
		}
	}

	if len(data.Layout) == 0 {
		data.Layout = viper.GetString("recording.layout")
	}

	recording, err := services.StartRecording(meeting, user, models.ParseLayout(data.Layout))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(recording)
}

func stopRecording(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	recording, err := services.StopRecording(meeting, user)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(recording)
}
