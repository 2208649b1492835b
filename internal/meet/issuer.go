package meet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-engine/internal/apperrors"
	"chat-engine/internal/logging"
	"chat-engine/internal/repositories"
)

const audience = "jitsi"

// Room is what a client needs to join a video room.
type Room struct {
	RoomName string `json:"roomName"`
	Token    string `json:"token"`
	Domain   string `json:"domain"`
}

type roomUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type roomFeatures struct {
	Livestreaming bool `json:"livestreaming"`
	Recording     bool `json:"recording"`
	Moderation    bool `json:"moderation"`
}

type roomContext struct {
	User     roomUser     `json:"user"`
	Features roomFeatures `json:"features"`
}

// RoomClaims is the token payload understood by the conferencing provider.
type RoomClaims struct {
	jwt.RegisteredClaims
	Context roomContext `json:"context"`
	Room    string      `json:"room"`
}

// Issuer signs room tokens. The provider itself is external; this service only vouches
// for the user.
type Issuer struct {
	appID  string
	secret []byte
	domain string
	ttl    time.Duration
	users  repositories.UserRepository
	now    func() time.Time
}

func NewIssuer(appID, secret, domain string, ttl time.Duration, users repositories.UserRepository) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{
		appID:  appID,
		secret: []byte(secret),
		domain: domain,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// CreateRoom issues a token for userID scoped to roomName.
func (i *Issuer) CreateRoom(ctx context.Context, userID, roomName string) (Room, error) {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return Room{}, apperrors.Validation("room name is required")
	}

	user, err := i.users.GetUser(ctx, userID)
	switch {
	case errors.Is(err, repositories.ErrUserNotFound):
		user.ID = userID
	case err != nil:
		logging.Ctx(ctx).Error().Err(err).Str(logging.FieldUserID, userID).Msg("load meeting profile failed")
		return Room{}, apperrors.Server(err)
	}

	now := i.now()
	claims := RoomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   i.domain,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Context: roomContext{
			User:     roomUser{ID: user.ID, Name: user.Name, Avatar: user.ProfileImageURL},
			Features: roomFeatures{Livestreaming: true, Recording: true, Moderation: true},
		},
		Room: roomName,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Room{}, apperrors.Server(err)
	}

	logging.Ctx(ctx).Debug().Str(logging.FieldUserID, userID).Str("room", roomName).Msg("meeting token issued")
	return Room{RoomName: roomName, Token: token, Domain: i.domain}, nil
}
