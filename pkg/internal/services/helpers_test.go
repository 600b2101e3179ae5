package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	localCache "git.solsynth.dev/hypernet/meeting/pkg/internal/cache"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/alicebob/miniredis/v2"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/livekit/protocol/livekit"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeRoomService struct {
	mu      sync.Mutex
	created []string
	deleted []string
	removed []string
	muted   []*livekit.MuteRoomTrackRequest
	sent    []*livekit.SendDataRequest

	participants []*livekit.ParticipantInfo
	err          error
}

func (v *fakeRoomService) CreateRoom(_ context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.created = append(v.created, req.Name)
	return &livekit.Room{Name: req.Name}, v.err
}

func (v *fakeRoomService) DeleteRoom(_ context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, req.Room)
	return &livekit.DeleteRoomResponse{}, v.err
}

func (v *fakeRoomService) ListParticipants(_ context.Context, _ *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error) {
	return &livekit.ListParticipantsResponse{Participants: v.participants}, v.err
}

func (v *fakeRoomService) RemoveParticipant(_ context.Context, req *livekit.RoomParticipantIdentity) (*livekit.RemoveParticipantResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removed = append(v.removed, req.Identity)
	return &livekit.RemoveParticipantResponse{}, v.err
}

func (v *fakeRoomService) MutePublishedTrack(_ context.Context, req *livekit.MuteRoomTrackRequest) (*livekit.MuteRoomTrackResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muted = append(v.muted, req)
	return &livekit.MuteRoomTrackResponse{Track: &livekit.TrackInfo{Sid: req.TrackSid, Muted: req.Muted}}, v.err
}

func (v *fakeRoomService) SendData(_ context.Context, req *livekit.SendDataRequest) (*livekit.SendDataResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sent = append(v.sent, req)
	return &livekit.SendDataResponse{}, v.err
}

type fakeEgressService struct {
	mu      sync.Mutex
	started []*livekit.RoomCompositeEgressRequest
	stopped []string
	items   map[string]*livekit.EgressInfo
	err     error
}

func (v *fakeEgressService) StartRoomCompositeEgress(_ context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	v.started = append(v.started, req)
	info := &livekit.EgressInfo{
		EgressId: fmt.Sprintf("EG_%d", len(v.started)),
		RoomName: req.RoomName,
		Status:   livekit.EgressStatus_EGRESS_STARTING,
	}
	if v.items == nil {
		v.items = make(map[string]*livekit.EgressInfo)
	}
	v.items[info.EgressId] = info
	return info, nil
}

func (v *fakeEgressService) StopEgress(_ context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	v.stopped = append(v.stopped, req.EgressId)
	info, ok := v.items[req.EgressId]
	if !ok {
		return nil, fmt.Errorf("egress not found")
	}
	info.Status = livekit.EgressStatus_EGRESS_ENDING
	return info, nil
}

func (v *fakeEgressService) ListEgress(_ context.Context, req *livekit.ListEgressRequest) (*livekit.ListEgressResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if info, ok := v.items[req.EgressId]; ok {
		return &livekit.ListEgressResponse{Items: []*livekit.EgressInfo{info}}, nil
	}
	return &livekit.ListEgressResponse{}, nil
}

func setupTestDatabase(t *testing.T) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.RunMigration(db))

	database.C = db
	t.Cleanup(func() {
		if raw, err := db.DB(); err == nil {
			_ = raw.Close()
		}
		database.C = nil
	})
}

// setupTestEnv wires a fresh database, fake livekit clients and settings.
func setupTestEnv(t *testing.T) (*fakeRoomService, *fakeEgressService) {
	t.Helper()
	setupTestDatabase(t)

	viper.Set("base_url", "https://meet.example.com")
	viper.Set("calling.api_key", "APIkey")
	viper.Set("calling.api_secret", "a-very-long-livekit-secret-for-tests")
	viper.Set("calling.token_duration", 3600)
	viper.Set("calling.token_skew", 60)

	rooms := &fakeRoomService{}
	egress := &fakeEgressService{}
	Lk, Eg = rooms, egress
	Waiting = NewMemoryWaitingStore(EntryRequestTTL())

	t.Cleanup(func() {
		Lk, Eg = nil, nil
		viper.Reset()
	})
	return rooms, egress
}

func newTestAccount(t *testing.T, id, name string) models.Account {
	t.Helper()
	account, err := EnsureAccount(models.Account{ID: id, Name: name, Nick: name})
	require.NoError(t, err)
	return account
}

// subscribeTestClient registers a stream client and returns it.
func subscribeTestClient(t *testing.T, meeting models.Meeting, accountId string) *StreamClient {
	t.Helper()
	client := NewStreamClient(uuid.NewString(), accountId, meeting.ID)
	SubscribeMeeting(client)
	t.Cleanup(func() { UnsubscribeMeeting(client) })
	return client
}

// parseCallToken verifies an issued call token with the configured secret.
func parseCallToken(t *testing.T, tk string) CallClaims {
	t.Helper()
	var claims CallClaims
	_, err := jwt.ParseWithClaims(tk, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("calling.api_secret")), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	return claims
}

// setupTestCache points the meeting cache at a fresh miniredis.
func setupTestCache(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	localCache.R = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	localCache.S = redisstore.NewRedis(localCache.R)
	t.Cleanup(func() {
		_ = localCache.Close()
		localCache.R, localCache.S = nil, nil
	})
	return mr
}

// decodeUnverified reads the claims without checking the time window.
func decodeUnverified(t *testing.T, tk string) CallClaims {
	t.Helper()
	var claims CallClaims
	_, _, err := jwt.NewParser().ParseUnverified(tk, &claims)
	require.NoError(t, err)
	return claims
}

type testStreamPackage struct {
	Action  string       `json:"action"`
	Payload models.Event `json:"payload"`
}

// receivePackages drains everything already queued for the client.
func receivePackages(t *testing.T, client *StreamClient) []testStreamPackage {
	t.Helper()
	var out []testStreamPackage
	for {
		select {
		case data := <-client.Send:
			var pkg testStreamPackage
			require.NoError(t, jsoniter.Unmarshal(data, &pkg))
			out = append(out, pkg)
		default:
			return out
		}
	}
}
