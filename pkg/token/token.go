// Package token issues and verifies the room tokens the matchmaking
// service hands to matched participants. The relay server verifies the
// signature before letting a client into a room.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type RoomClaims struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	IsInitiator bool   `json:"is_initiator"`
	jwt.RegisteredClaims
}

func GenerateRoomToken(roomID, userID string, isInitiator bool, expiration time.Duration, secret string) (string, error) {
	claims := RoomClaims{
		RoomID:      roomID,
		UserID:      userID,
		IsInitiator: isInitiator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign room token: %w", err)
	}
	return signed, nil
}

func ValidateRoomToken(tokenString, secret string) (*RoomClaims, error) {
	t, err := jwt.ParseWithClaims(tokenString, &RoomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid room token: %w", err)
	}

	claims, ok := t.Claims.(*RoomClaims)
	if !ok || !t.Valid {
		return nil, fmt.Errorf("invalid room token claims")
	}
	return claims, nil
}
