package token

import (
	"testing"
	"time"
)

func TestGenerateAndValidateRoomToken(t *testing.T) {
	secret := "test-secret"

	signed, err := GenerateRoomToken("room-1", "user-1", true, time.Hour, secret)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	claims, err := ValidateRoomToken(signed, secret)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if claims.RoomID != "room-1" {
		t.Errorf("expected room-1, got %s", claims.RoomID)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", claims.UserID)
	}
	if !claims.IsInitiator {
		t.Error("expected initiator claim to survive the round trip")
	}
}

func TestValidateRoomToken_WrongSecret(t *testing.T) {
	signed, err := GenerateRoomToken("room-1", "user-1", false, time.Hour, "secret-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := ValidateRoomToken(signed, "secret-b"); err == nil {
		t.Fatal("expected validation to fail with the wrong secret")
	}
}

func TestValidateRoomToken_Expired(t *testing.T) {
	signed, err := GenerateRoomToken("room-1", "user-1", false, -time.Minute, "secret")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := ValidateRoomToken(signed, "secret"); err == nil {
		t.Fatal("expected validation to fail for an expired token")
	}
}

func TestValidateRoomToken_Garbage(t *testing.T) {
	if _, err := ValidateRoomToken("not-a-token", "secret"); err == nil {
		t.Fatal("expected validation to fail for a malformed token")
	}
}
