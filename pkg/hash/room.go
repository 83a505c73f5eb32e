package hash

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// RoomDigest derives a stable room token for an ad-hoc session from the
// initiator identity and the selected problem. The same inputs always land
// in the same room, so a reopened solo session rejoins its document.
func RoomDigest(userID, displayName, problemID string) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s/%s/%s", userID, displayName, problemID)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
