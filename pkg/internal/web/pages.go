package web

import (
	"errors"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

func MapPages(app *fiber.App) {
	pages := app.Group("").Name("Pages")
	{
		pages.Get("/", exts.AuthMiddleware, requireUser, renderHome)
		pages.Get("/upcoming", exts.AuthMiddleware, requireUser, renderMeetings(services.MeetingListUpcoming))
		pages.Get("/previous", exts.AuthMiddleware, requireUser, renderMeetings(services.MeetingListEnded))
		pages.Get("/recordings", exts.AuthMiddleware, requireUser, renderRecordings)
		pages.Get("/personal-room", exts.AuthMiddleware, requireUser, renderPersonalRoom)
		pages.Get("/meeting/:meeting", exts.AuthMiddleware, requireUser, renderMeeting)
		pages.Post("/meeting/:meeting", exts.AuthMiddleware, requireUser, unlockMeeting)
	}
}

func requireUser(c *fiber.Ctx) error {
	if _, ok := exts.GetUser(c); !ok {
		return c.Status(fiber.StatusUnauthorized).Render("views/signin", fiber.Map{
			"title":  "Sign in",
			"signin": viper.GetString("auth.sign_in_url"),
		})
	}
	return c.Next()
}

func renderHome(c *fiber.Ctx) error {
	now := time.Now()
	return c.Render("views/home", fiber.Map{
		"title": "Home",
		"route": "/",
		"user":  c.Locals("user"),
		"time":  now.Format("03:04 PM"),
		"date":  now.Format("Monday, January 2, 2006"),
	})
}

func renderMeetings(kind services.MeetingListType) fiber.Handler {
	title, empty, route := "Upcoming", "No Upcoming Calls", "/upcoming"
	if kind == services.MeetingListEnded {
		title, empty, route = "Previous", "No Previous Calls", "/previous"
	}

	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(models.Account)
		meetings, err := services.ListMeetings(user, kind)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Render("views/meetings", fiber.Map{
			"title":    title,
			"route":    route,
			"user":     user,
			"meetings": meetings,
			"empty":    empty,
			"ended":    kind == services.MeetingListEnded,
		})
	}
}

func renderRecordings(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	recordings, err := services.ListRecordings(user)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Render("views/recordings", fiber.Map{
		"title":      "Recordings",
		"route":      "/recordings",
		"user":       user,
		"recordings": recordings,
	})
}

func renderPersonalRoom(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	return c.Render("views/personal_room", fiber.Map{
		"title": "Personal Room",
		"route": "/personal-room",
		"user":  user,
		"room":  services.GetPersonalRoomInfo(user),
	})
}

func loadMeeting(c *fiber.Ctx) (models.Meeting, error) {
	meeting, err := services.GetMeeting(c.Params("meeting"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return meeting, c.Status(fiber.StatusNotFound).Render("views/alert", fiber.Map{
			"title":   "Not found",
			"kind":    "not-found",
			"message": "Meeting not found",
		})
	}
	return meeting, err
}

// renderMeetingGate picks the screen a visitor sees before the call.
func renderMeetingGate(c *fiber.Ctx, meeting models.Meeting, password string, unlocked bool) error {
	user := c.Locals("user").(models.Account)
	isHost := meeting.IsHost(user.ID)
	personal := len(c.Query("personal")) > 0

	if err := services.CheckJoinable(meeting, time.Now()); err != nil {
		kind := "ended"
		if errors.Is(err, services.ErrMeetingNotStarted) {
			kind = "scheduled"
		}
		return c.Render("views/alert", fiber.Map{
			"title":   "Meeting",
			"kind":    kind,
			"message": alertMessage(meeting, err),
		})
	}

	if !isHost && meeting.HasPassword && !unlocked {
		status := fiber.StatusOK
		var message string
		if len(password) > 0 {
			status = fiber.StatusForbidden
			message = "Wrong password, please try again."
		}
		return c.Status(status).Render("views/password", fiber.Map{
			"title":    "Meeting",
			"meeting":  meeting,
			"personal": personal,
			"error":    message,
		})
	}

	return c.Render("views/meeting", fiber.Map{
		"title":    "Meeting",
		"meeting":  meeting,
		"host":     isHost,
		"personal": personal,
		"password": password,
		"endpoint": services.CallEndpoint(),
		"poll":     int(services.EntryPollInterval() / time.Second),
	})
}

func alertMessage(meeting models.Meeting, err error) string {
	if errors.Is(err, services.ErrMeetingNotStarted) {
		return "Your Meeting has not started yet. It is scheduled for " + meeting.StartsAt.Format("Jan 2, 2006 3:04 PM")
	}
	return "The call has been ended by the host"
}

func renderMeeting(c *fiber.Ctx) error {
	meeting, err := loadMeeting(c)
	if err != nil || meeting.ID == 0 {
		return err
	}
	return renderMeetingGate(c, meeting, "", false)
}

func unlockMeeting(c *fiber.Ctx) error {
	meeting, err := loadMeeting(c)
	if err != nil || meeting.ID == 0 {
		return err
	}

	password := c.FormValue("password")
	unlocked := services.VerifyPassword(meeting, password) == nil
	return renderMeetingGate(c, meeting, password, unlocked)
}
