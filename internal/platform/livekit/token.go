package livekit

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// serviceTokenTTL bounds the server-to-server tokens used for RoomService
// calls.
const serviceTokenTTL = 10 * time.Minute

// VideoGrant mirrors LiveKit's "video" claim.
type VideoGrant struct {
	RoomCreate   bool   `json:"roomCreate,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	Room         string `json:"room,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

type accessClaims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

// Grants selects what a participant may do once joined.
type Grants struct {
	CanPublish   bool
	CanSubscribe bool
}

// MintToken signs a join token for roomName. identity must be unique per
// participant in the room; name is what other participants see.
func (c *Client) MintToken(roomName, identity, name string, ttl time.Duration, grants Grants) (string, error) {
	if roomName == "" || identity == "" {
		return "", fmt.Errorf("livekit: room and identity are required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("livekit: token ttl must be positive")
	}

	canPublish, canSubscribe := grants.CanPublish, grants.CanSubscribe
	return c.sign(accessClaims{
		RegisteredClaims: c.registered(identity, ttl),
		Name:             name,
		Video: &VideoGrant{
			RoomJoin:     true,
			Room:         roomName,
			CanPublish:   &canPublish,
			CanSubscribe: &canSubscribe,
		},
	})
}

func (c *Client) serviceToken() (string, error) {
	return c.sign(accessClaims{
		RegisteredClaims: c.registered("", serviceTokenTTL),
		Video:            &VideoGrant{RoomCreate: true},
	})
}

func (c *Client) registered(identity string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	return jwt.RegisteredClaims{
		Issuer:    c.apiKey,
		Subject:   identity,
		ID:        identity,
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Client) sign(claims accessClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("livekit: sign token: %w", err)
	}
	return signed, nil
}
