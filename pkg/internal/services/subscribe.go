package services

import (
	"sync"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// StreamClient is a websocket connection watching one meeting.
type StreamClient struct {
	ID        string
	AccountID string
	MeetingID uint
	Send      chan []byte
}

func NewStreamClient(id string, accountId string, meetingId uint) *StreamClient {
	return &StreamClient{
		ID:        id,
		AccountID: accountId,
		MeetingID: meetingId,
		Send:      make(chan []byte, 64),
	}
}

// MeetingID -> ClientID -> Client
var subscribeInfo = make(map[uint]map[string]*StreamClient)
var subscribeLock sync.RWMutex

func SubscribeMeeting(client *StreamClient) {
	subscribeLock.Lock()
	defer subscribeLock.Unlock()
	if _, ok := subscribeInfo[client.MeetingID]; !ok {
		subscribeInfo[client.MeetingID] = make(map[string]*StreamClient)
	}
	subscribeInfo[client.MeetingID][client.ID] = client
}

func UnsubscribeMeeting(client *StreamClient) {
	subscribeLock.Lock()
	defer subscribeLock.Unlock()
	if clients, ok := subscribeInfo[client.MeetingID]; ok {
		if _, ok := clients[client.ID]; ok {
			delete(clients, client.ID)
			close(client.Send)
		}
		if len(clients) == 0 {
			delete(subscribeInfo, client.MeetingID)
		}
	}
}

// PushCommand delivers the package to every client of the meeting,
// or only to the clients of the listed accounts when any is given.
func PushCommand(meetingId uint, task models.StreamPackage, accountId ...string) {
	data := task.Marshal()

	subscribeLock.RLock()
	defer subscribeLock.RUnlock()
	for _, client := range subscribeInfo[meetingId] {
		if len(accountId) > 0 && !lo.Contains(accountId, client.AccountID) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			log.Warn().Str("client", client.ID).Uint("meeting", meetingId).Msg("Stream buffer is full, dropped a package...")
		}
	}
}
