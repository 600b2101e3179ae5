package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/services"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSessionSecret = "session-secret-for-tests"

func setupTestServer(t *testing.T) *fiber.App {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.RunMigration(db))
	database.C = db

	viper.Set("base_url", "https://meet.example.com")
	viper.Set("auth.secret", testSessionSecret)
	viper.Set("auth.sign_in_url", "https://auth.example.com/sign-in")
	viper.Set("calling.api_key", "APIkey")
	viper.Set("calling.api_secret", "a-very-long-livekit-secret-for-tests")
	viper.Set("calling.endpoint", "livekit.example.com")
	services.Lk, services.Eg = nil, nil
	services.Waiting = services.NewMemoryWaitingStore(services.EntryRequestTTL())

	t.Cleanup(func() {
		if raw, err := db.DB(); err == nil {
			_ = raw.Close()
		}
		database.C = nil
		viper.Reset()
	})

	return NewServer().App()
}

func sessionToken(t *testing.T, subject, name string) string {
	t.Helper()
	tk, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      subject,
		"username": name,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSessionSecret))
	require.NoError(t, err)
	return tk
}

type testResponse struct {
	Status int
	Body   string
}

func (v testResponse) JSON(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, jsoniter.UnmarshalFromString(v.Body, out), v.Body)
}

func doRequest(t *testing.T, app *fiber.App, method, target, tk string, body string) testResponse {
	t.Helper()
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if len(body) > 0 {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if len(tk) > 0 {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tk)
	}
	return send(t, app, req)
}

func submitForm(t *testing.T, app *fiber.App, target, tk string, form url.Values) testResponse {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	req.Header.Set(fiber.HeaderCookie, "__session="+tk)
	return send(t, app, req)
}

func send(t *testing.T, app *fiber.App, req *http.Request) testResponse {
	t.Helper()
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return testResponse{Status: res.StatusCode, Body: string(raw)}
}

func createTestMeeting(t *testing.T, app *fiber.App, tk string, payload map[string]any) models.Meeting {
	t.Helper()
	body, _ := jsoniter.MarshalToString(payload)
	res := doRequest(t, app, fiber.MethodPost, "/api/meetings", tk, body)
	require.Equal(t, fiber.StatusOK, res.Status, res.Body)
	var meeting models.Meeting
	res.JSON(t, &meeting)
	return meeting
}

func TestUserinfo(t *testing.T) {
	app := setupTestServer(t)

	res := doRequest(t, app, fiber.MethodGet, "/api/users/me", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.Status)

	res = doRequest(t, app, fiber.MethodGet, "/api/users/me", "not-a-token", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.Status)

	res = doRequest(t, app, fiber.MethodGet, "/api/users/me", sessionToken(t, "user_alice", "alice"), "")
	require.Equal(t, fiber.StatusOK, res.Status)
	var account models.Account
	res.JSON(t, &account)
	assert.Equal(t, "user_alice", account.ID)
	assert.Equal(t, "alice", account.Name)
}

func TestMeetingToken(t *testing.T) {
	app := setupTestServer(t)
	hostTk := sessionToken(t, "user_host", "host")
	guestTk := sessionToken(t, "user_guest", "guest")

	t.Run("host of an open meeting", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{})
		assert.Equal(t, models.DefaultMeetingDescription, meeting.Description)

		res := doRequest(t, app, fiber.MethodPost, "/api/meetings/"+meeting.ExternalID+"/token", hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status, res.Body)
		var out struct {
			Token    string `json:"token"`
			Endpoint string `json:"endpoint"`
		}
		res.JSON(t, &out)
		assert.Equal(t, "wss://livekit.example.com", out.Endpoint)

		var claims services.CallClaims
		_, err := jwt.ParseWithClaims(out.Token, &claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(viper.GetString("calling.api_secret")), nil
		})
		require.NoError(t, err)
		assert.Equal(t, "user_host", claims.Subject)
		assert.Equal(t, meeting.ExternalID, claims.Video.Room)
		assert.True(t, claims.Video.RoomAdmin)
	})

	t.Run("anonymous", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{})
		res := doRequest(t, app, fiber.MethodPost, "/api/meetings/"+meeting.ExternalID+"/token", "", "")
		assert.Equal(t, fiber.StatusUnauthorized, res.Status)
	})

	t.Run("unknown meeting", func(t *testing.T) {
		res := doRequest(t, app, fiber.MethodPost, "/api/meetings/nope/token", guestTk, "")
		assert.Equal(t, fiber.StatusNotFound, res.Status)
	})

	t.Run("scheduled meeting", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{
			"starts_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
		res := doRequest(t, app, fiber.MethodPost, "/api/meetings/"+meeting.ExternalID+"/token", guestTk, "")
		assert.Equal(t, fiber.StatusConflict, res.Status)
	})

	t.Run("password", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{"password": "secret"})
		assert.True(t, meeting.HasPassword)
		assert.NotContains(t, doRequest(t, app, fiber.MethodGet, "/api/meetings/"+meeting.ExternalID, guestTk, "").Body, "secret")

		target := "/api/meetings/" + meeting.ExternalID + "/token"
		res := doRequest(t, app, fiber.MethodPost, target, guestTk, `{"password":"wrong"}`)
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doRequest(t, app, fiber.MethodPost, target, guestTk, "")
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doRequest(t, app, fiber.MethodPost, target, guestTk, `{"password":"secret"}`)
		assert.Equal(t, fiber.StatusOK, res.Status, res.Body)

		res = doRequest(t, app, fiber.MethodPost, "/api/meetings/"+meeting.ExternalID+"/password", guestTk, `{"password":"wrong"}`)
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doRequest(t, app, fiber.MethodPost, "/api/meetings/"+meeting.ExternalID+"/password", guestTk, `{"password":"secret"}`)
		assert.Equal(t, fiber.StatusOK, res.Status)

		res = doRequest(t, app, fiber.MethodGet, "/api/meetings/"+meeting.ExternalID+"/info", guestTk, "")
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doRequest(t, app, fiber.MethodGet, "/api/meetings/"+meeting.ExternalID+"/info", hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		var info map[string]string
		res.JSON(t, &info)
		assert.Equal(t, "secret", info["password"])
		assert.Equal(t, "https://meet.example.com/meeting/"+meeting.ExternalID, info["link"])
	})

	t.Run("waiting room", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{"waiting_room": true})
		base := "/api/meetings/" + meeting.ExternalID

		res := doRequest(t, app, fiber.MethodPost, base+"/token", guestTk, "")
		assert.Equal(t, fiber.StatusForbidden, res.Status)

		for i := 0; i < 3; i++ {
			res = doRequest(t, app, fiber.MethodPost, base+"/entry", guestTk, "")
			require.Equal(t, fiber.StatusOK, res.Status)
		}
		var status services.EntryStatus
		res.JSON(t, &status)
		assert.False(t, status.Admitted)

		res = doRequest(t, app, fiber.MethodGet, base+"/entry", hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		var entries []services.WaitingEntry
		res.JSON(t, &entries)
		require.Len(t, entries, 1)
		assert.Equal(t, "user_guest", entries[0].ID)

		res = doRequest(t, app, fiber.MethodPost, base+"/entry/user_guest", guestTk, "")
		assert.Equal(t, fiber.StatusForbidden, res.Status)

		res = doRequest(t, app, fiber.MethodPost, base+"/entry/user_guest", hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)

		res = doRequest(t, app, fiber.MethodPost, base+"/token", guestTk, "")
		assert.Equal(t, fiber.StatusOK, res.Status, res.Body)
	})

	t.Run("ended meeting", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{})
		base := "/api/meetings/" + meeting.ExternalID

		res := doRequest(t, app, fiber.MethodDelete, base+"/ongoing", guestTk, "")
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doRequest(t, app, fiber.MethodDelete, base+"/ongoing", hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status, res.Body)

		res = doRequest(t, app, fiber.MethodPost, base+"/token", hostTk, "")
		assert.Equal(t, fiber.StatusConflict, res.Status)
	})

	t.Run("missing credentials", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{})
		viper.Set("calling.api_secret", "")
		defer viper.Set("calling.api_secret", "a-very-long-livekit-secret-for-tests")

		res := doRequest(t, app, fiber.MethodPost, "/api/meetings/"+meeting.ExternalID+"/token", hostTk, "")
		assert.Equal(t, fiber.StatusInternalServerError, res.Status)
	})
}

// doMeetingRequest is doRequest with the meeting password header set.
func doMeetingRequest(t *testing.T, app *fiber.App, method, target, tk, password, body string) testResponse {
	t.Helper()
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if len(body) > 0 {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tk)
	if len(password) > 0 {
		req.Header.Set("X-Meeting-Password", password)
	}
	return send(t, app, req)
}

func TestMeetingAccessGate(t *testing.T) {
	app := setupTestServer(t)
	hostTk := sessionToken(t, "user_host", "host")
	guestTk := sessionToken(t, "user_guest", "guest")
	meeting := createTestMeeting(t, app, hostTk, map[string]any{"password": "secret", "waiting_room": true})
	base := "/api/meetings/" + meeting.ExternalID

	type call struct {
		method, path, body string
	}
	participantCalls := []call{
		{fiber.MethodPost, "/reactions", `{"emoji":"👍"}`},
		{fiber.MethodPost, "/events", `{"type":"chat","data":{"text":"hi"}}`},
		{fiber.MethodGet, "/participants", ""},
		{fiber.MethodGet, "/ws", ""},
	}

	t.Run("without the password", func(t *testing.T) {
		for _, password := range []string{"", "wrong"} {
			for _, item := range participantCalls {
				res := doMeetingRequest(t, app, item.method, base+item.path, guestTk, password, item.body)
				assert.Equal(t, fiber.StatusForbidden, res.Status, item.path)
			}
			res := doMeetingRequest(t, app, fiber.MethodPost, base+"/entry", guestTk, password, "")
			assert.Equal(t, fiber.StatusForbidden, res.Status)
		}

		res := doRequest(t, app, fiber.MethodGet, base+"/entry", hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		assert.Equal(t, "[]", res.Body)
	})

	t.Run("with the password but not admitted", func(t *testing.T) {
		for _, item := range participantCalls {
			res := doMeetingRequest(t, app, item.method, base+item.path, guestTk, "secret", item.body)
			assert.Equal(t, fiber.StatusForbidden, res.Status, item.path)
		}

		res := doMeetingRequest(t, app, fiber.MethodPost, base+"/entry", guestTk, "secret", "")
		require.Equal(t, fiber.StatusOK, res.Status, res.Body)
	})

	t.Run("admitted", func(t *testing.T) {
		require.Equal(t, fiber.StatusOK, doRequest(t, app, fiber.MethodPost, base+"/entry/user_guest", hostTk, "").Status)

		res := doMeetingRequest(t, app, fiber.MethodPost, base+"/reactions", guestTk, "", `{"emoji":"👍"}`)
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doMeetingRequest(t, app, fiber.MethodPost, base+"/reactions", guestTk, "secret", `{"emoji":"👍"}`)
		assert.Equal(t, fiber.StatusOK, res.Status, res.Body)
		res = doRequest(t, app, fiber.MethodPost, base+"/events?password=secret", guestTk, `{"type":"chat"}`)
		assert.Equal(t, fiber.StatusOK, res.Status, res.Body)

		// The gate passes, the upgrade check answers next.
		res = doMeetingRequest(t, app, fiber.MethodGet, base+"/ws", guestTk, "secret", "")
		assert.Equal(t, fiber.StatusUpgradeRequired, res.Status)
	})

	t.Run("denied", func(t *testing.T) {
		strangerTk := sessionToken(t, "user_stranger", "stranger")
		require.Equal(t, fiber.StatusOK, doMeetingRequest(t, app, fiber.MethodPost, base+"/entry", strangerTk, "secret", "").Status)
		require.Equal(t, fiber.StatusOK, doRequest(t, app, fiber.MethodDelete, base+"/entry/user_stranger", hostTk, "").Status)

		res := doMeetingRequest(t, app, fiber.MethodPost, base+"/entry", strangerTk, "secret", "")
		require.Equal(t, fiber.StatusOK, res.Status)
		var status services.EntryStatus
		res.JSON(t, &status)
		assert.True(t, status.Denied)

		res = doMeetingRequest(t, app, fiber.MethodPost, base+"/token", strangerTk, "secret", "")
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		res = doMeetingRequest(t, app, fiber.MethodPost, base+"/reactions", strangerTk, "secret", `{"emoji":"👍"}`)
		assert.Equal(t, fiber.StatusForbidden, res.Status)
	})

	t.Run("host needs no password", func(t *testing.T) {
		res := doRequest(t, app, fiber.MethodPost, base+"/reactions", hostTk, `{"emoji":"🎉"}`)
		assert.Equal(t, fiber.StatusOK, res.Status, res.Body)
	})

	var events []models.Event
	require.NoError(t, database.C.Where("type = ?", models.EventReaction).Find(&events).Error)
	assert.Len(t, events, 2)
}

func TestPersonalRoomAPI(t *testing.T) {
	app := setupTestServer(t)
	tk := sessionToken(t, "user_host", "host")

	res := doRequest(t, app, fiber.MethodGet, "/api/personal-room", tk, "")
	require.Equal(t, fiber.StatusOK, res.Status)
	var info services.PersonalRoomInfo
	res.JSON(t, &info)
	assert.Equal(t, "host's Meeting Room", info.Topic)
	assert.Equal(t, "https://meet.example.com/meeting/user_host?personal=true", info.Link)

	res = doRequest(t, app, fiber.MethodPost, "/api/personal-room", tk, "")
	require.Equal(t, fiber.StatusOK, res.Status)
	res = doRequest(t, app, fiber.MethodPost, "/api/personal-room", tk, "")
	require.Equal(t, fiber.StatusOK, res.Status)

	var count int64
	require.NoError(t, database.C.Model(&models.Meeting{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	res = doRequest(t, app, fiber.MethodDelete, "/api/meetings/user_host/ongoing", tk, "")
	assert.Equal(t, fiber.StatusBadRequest, res.Status)
}

func TestEventsAPI(t *testing.T) {
	app := setupTestServer(t)
	hostTk := sessionToken(t, "user_host", "host")
	guestTk := sessionToken(t, "user_guest", "guest")
	meeting := createTestMeeting(t, app, hostTk, map[string]any{})
	base := "/api/meetings/" + meeting.ExternalID

	res := doRequest(t, app, fiber.MethodPost, base+"/events", guestTk, `{"type":"call.ended"}`)
	assert.Equal(t, fiber.StatusBadRequest, res.Status)
	res = doRequest(t, app, fiber.MethodPost, base+"/events", guestTk, `{"type":"hand.raised","data":{"up":true}}`)
	assert.Equal(t, fiber.StatusOK, res.Status, res.Body)
	res = doRequest(t, app, fiber.MethodPost, base+"/reactions", guestTk, `{"emoji":"👍"}`)
	assert.Equal(t, fiber.StatusOK, res.Status, res.Body)
	res = doRequest(t, app, fiber.MethodPost, base+"/reactions", guestTk, `{"emoji":""}`)
	assert.Equal(t, fiber.StatusBadRequest, res.Status)

	res = doRequest(t, app, fiber.MethodGet, base+"/events", guestTk, "")
	assert.Equal(t, fiber.StatusForbidden, res.Status)
	res = doRequest(t, app, fiber.MethodGet, base+"/events", hostTk, "")
	require.Equal(t, fiber.StatusOK, res.Status)
	var events []models.Event
	res.JSON(t, &events)
	assert.Len(t, events, 2)
}

func TestMeetingPage(t *testing.T) {
	app := setupTestServer(t)
	hostTk := sessionToken(t, "user_host", "host")
	guestTk := sessionToken(t, "user_guest", "guest")

	t.Run("sign in first", func(t *testing.T) {
		res := doRequest(t, app, fiber.MethodGet, "/", "", "")
		assert.Equal(t, fiber.StatusUnauthorized, res.Status)
		assert.Contains(t, res.Body, "https://auth.example.com/sign-in")
	})

	t.Run("password gate", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{"password": "secret"})
		target := "/meeting/" + meeting.ExternalID

		res := doRequest(t, app, fiber.MethodGet, target, guestTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		assert.Contains(t, res.Body, `id="password-gate"`)
		assert.NotContains(t, res.Body, `id="meeting-setup"`)

		res = submitForm(t, app, target, guestTk, url.Values{"password": {"wrong"}})
		assert.Equal(t, fiber.StatusForbidden, res.Status)
		assert.Contains(t, res.Body, "Wrong password, please try again.")

		res = submitForm(t, app, target, guestTk, url.Values{"password": {"secret"}})
		require.Equal(t, fiber.StatusOK, res.Status)
		assert.Contains(t, res.Body, `id="meeting-setup"`)
		assert.NotContains(t, res.Body, `id="end-call"`)

		res = doRequest(t, app, fiber.MethodGet, target, hostTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		assert.Contains(t, res.Body, `id="meeting-setup"`)
		assert.Contains(t, res.Body, `id="end-call"`)
	})

	t.Run("not started yet", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{
			"starts_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
		res := doRequest(t, app, fiber.MethodGet, "/meeting/"+meeting.ExternalID, guestTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		assert.Contains(t, res.Body, "Your Meeting has not started yet")
		assert.NotContains(t, res.Body, `id="meeting-setup"`)
	})

	t.Run("ended", func(t *testing.T) {
		meeting := createTestMeeting(t, app, hostTk, map[string]any{})
		require.Equal(t, fiber.StatusOK, doRequest(t, app, fiber.MethodDelete, "/api/meetings/"+meeting.ExternalID+"/ongoing", hostTk, "").Status)

		res := doRequest(t, app, fiber.MethodGet, "/meeting/"+meeting.ExternalID, guestTk, "")
		require.Equal(t, fiber.StatusOK, res.Status)
		assert.Contains(t, res.Body, "The call has been ended by the host")
	})

	t.Run("not found", func(t *testing.T) {
		res := doRequest(t, app, fiber.MethodGet, "/meeting/nope", guestTk, "")
		assert.Equal(t, fiber.StatusNotFound, res.Status)
	})
}

func TestRecordingsPage(t *testing.T) {
	app := setupTestServer(t)
	hostTk := sessionToken(t, "user_host", "host")
	meeting := createTestMeeting(t, app, hostTk, map[string]any{})

	res := doRequest(t, app, fiber.MethodGet, "/recordings", hostTk, "")
	require.Equal(t, fiber.StatusOK, res.Status)
	assert.Contains(t, res.Body, "No Recordings")

	require.NoError(t, database.C.Create(&[]models.Recording{
		{EgressID: "EG_a", Filename: "first.mp4", URL: "https://cdn.example.com/first.mp4", Status: models.RecordingStatusCompleted, MeetingID: meeting.ID},
		{EgressID: "EG_b", Filename: "second.mp4", URL: "https://cdn.example.com/second.mp4", Status: models.RecordingStatusCompleted, MeetingID: meeting.ID},
		{EgressID: "EG_c", Filename: "pending.mp4", Status: models.RecordingStatusProcessing, MeetingID: meeting.ID},
	}).Error)

	res = doRequest(t, app, fiber.MethodGet, "/recordings", hostTk, "")
	require.Equal(t, fiber.StatusOK, res.Status)
	assert.Equal(t, 2, strings.Count(res.Body, "recording-card"))
	assert.Contains(t, res.Body, "https://cdn.example.com/first.mp4")
	assert.NotContains(t, res.Body, "pending.mp4")

	res = doRequest(t, app, fiber.MethodGet, "/api/recordings", hostTk, "")
	require.Equal(t, fiber.StatusOK, res.Status)
	var recordings []models.Recording
	res.JSON(t, &recordings)
	assert.Len(t, recordings, 2)
}
