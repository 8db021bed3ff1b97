// Package auth issues and verifies the pre-issued join tokens a client
// presents when it joins a channel.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/VideoRoom/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrWrongChannel = errors.New("token not valid for this channel")
)

// Claims bind a token to one app and one channel.
type Claims struct {
	AppID   string          `json:"app_id"`
	Channel domain.RoomName `json:"channel"`
	jwt.RegisteredClaims
}

// Issue signs a join token valid for ttl.
func Issue(secret []byte, appID string, channel domain.RoomName, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty token secret")
	}
	now := time.Now()
	claims := Claims{
		AppID:   appID,
		Channel: channel,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and that the token was issued for
// appID and channel.
func Verify(secret []byte, tokenString, appID string, channel domain.RoomName) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AppID != appID || claims.Channel != channel {
		return nil, ErrWrongChannel
	}
	return claims, nil
}
