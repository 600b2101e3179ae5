package services

import (
	"errors"
	"fmt"
	"time"

	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/livekit/protocol/auth"
	"github.com/spf13/viper"
)

var ErrMissingCredentials = errors.New("calling api key or secret is missing")

// CallClaims is the access token layout the LiveKit server accepts.
type CallClaims struct {
	Name     string           `json:"name,omitempty"`
	Metadata string           `json:"metadata,omitempty"`
	Video    *auth.VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

func tokenDuration() time.Duration {
	seconds := viper.GetInt("calling.token_duration")
	if seconds <= 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}

func tokenSkew() time.Duration {
	if !viper.IsSet("calling.token_skew") {
		return time.Minute
	}
	return time.Duration(viper.GetInt("calling.token_skew")) * time.Second
}

// EncodeCallToken mints an access token for the meeting room.
// The issue time is moved back by the configured skew so a server
// with a slightly fast clock still accepts the token.
func EncodeCallToken(user models.Account, meeting models.Meeting, now time.Time) (string, error) {
	apiKey := viper.GetString("calling.api_key")
	apiSecret := viper.GetString("calling.api_secret")
	if len(apiKey) == 0 || len(apiSecret) == 0 {
		return "", ErrMissingCredentials
	}

	isHost := meeting.IsHost(user.ID)
	canPublish := true
	grant := &auth.VideoGrant{
		Room:           meeting.ExternalID,
		RoomJoin:       true,
		RoomAdmin:      isHost,
		RoomRecord:     isHost,
		CanPublish:     &canPublish,
		CanSubscribe:   &canPublish,
		CanPublishData: &canPublish,
	}

	metadata, _ := jsoniter.Marshal(user)

	issuedAt := now.Add(-tokenSkew())
	claims := CallClaims{
		Name:     user.DisplayName(),
		Metadata: string(metadata),
		Video:    grant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration())),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tks, err := token.SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return tks, nil
}
