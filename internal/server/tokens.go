package server

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid player token")

// playerClaims binds a token to one player in one room.
type playerClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *tokenIssuer) Issue(playerID, roomID string) (string, error) {
	now := t.now()
	claims := playerClaims{
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify returns the player and room a token was issued for.
func (t *tokenIssuer) Verify(raw string) (string, string, error) {
	token, err := jwt.ParseWithClaims(raw, &playerClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", "", errInvalidToken
	}
	claims, ok := token.Claims.(*playerClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.RoomID == "" {
		return "", "", errInvalidToken
	}
	return claims.Subject, claims.RoomID, nil
}
