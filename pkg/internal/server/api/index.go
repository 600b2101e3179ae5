package api

import (
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func MapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL, exts.AuthMiddleware).Name("API")
	{
		api.Get("/users/me", getUserinfo)

		api.Get("/recordings", listRecordings)

		api.Get("/personal-room", getPersonalRoom)
		api.Post("/personal-room", startPersonalRoom)

		api.Get("/meetings", listMeetings)
		api.Post("/meetings", createMeeting)

		meetings := api.Group("/meetings/:meeting").Use(meetingMiddleware).Name("Meetings API")
		{
			meetings.Get("/", getMeeting)
			meetings.Get("/info", getMeetingInfo)
			meetings.Post("/password", checkMeetingPassword)
			meetings.Post("/token", exchangeMeetingToken)
			meetings.Delete("/ongoing", endMeeting)

			meetings.Get("/entry", listEntryRequests)
			meetings.Post("/entry", meetingGateMiddleware, requestEntry)
			meetings.Post("/entry/:user", allowEntry)
			meetings.Delete("/entry/:user", denyEntry)

			meetings.Get("/events", listEvent)
			meetings.Post("/events", meetingAccessMiddleware, newCustomEvent)
			meetings.Post("/reactions", meetingAccessMiddleware, sendReaction)

			meetings.Get("/participants", meetingAccessMiddleware, listParticipants)
			meetings.Delete("/participants/:identity", kickParticipant)
			meetings.Post("/participants/:identity/mute", muteParticipant)

			meetings.Post("/recording", startRecording)
			meetings.Delete("/recording", stopRecording)

			meetings.Get("/ws", meetingAccessMiddleware, streamUpgradeMiddleware, websocket.New(meetingStream))
		}
	}
}
