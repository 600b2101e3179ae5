package api

import (
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

func streamUpgradeMiddleware(c *fiber.Ctx) error {
	if err := exts.EnsureAuthenticated(c); err != nil {
		return err
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// meetingStream pushes meeting events to the client and accepts
// reactions coming back on the same connection.
func meetingStream(c *websocket.Conn) {
	user := c.Locals("user").(models.Account)
	meeting := c.Locals("meeting").(models.Meeting)

	client := services.NewStreamClient(uuid.NewString(), user.ID, meeting.ID)
	services.SubscribeMeeting(client)
	log.Debug().Str("client", client.ID).Str("meeting", meeting.ExternalID).Msg("Stream client connected...")

	go func() {
		ticker := time.NewTicker(50 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case data, ok := <-client.Send:
				if !ok {
					return
				}
				_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-ticker.C:
				_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}

		var pkg models.StreamPackage
		if err := jsoniter.Unmarshal(raw, &pkg); err != nil {
			continue
		}

		switch pkg.Action {
		case "reactions.new":
			var payload struct {
				Emoji string `json:"emoji"`
			}
			models.FitStruct(pkg.Payload, &payload)
			if _, err := services.SendReaction(meeting, user, payload.Emoji); err != nil {
				services.PushCommand(meeting.ID, models.StreamPackage{
					Action:  "error",
					Message: err.Error(),
				}, user.ID)
			}
		}
	}

	services.UnsubscribeMeeting(client)
	log.Debug().Str("client", client.ID).Str("meeting", meeting.ExternalID).Msg("Stream client disconnected...")
}
