package domain

// Identity is the participant identity supplied by the host application.
// Both fields are required before a session can be constructed.
type Identity struct {
	UserID      string `json:"user_id" validate:"required"`
	DisplayName string `json:"display_name" validate:"required"`
	ColorTag    string `json:"color_tag,omitempty"`
}

// Match is what the matchmaking collaborator hands over for a paired
// session. A nil *Match means a solo session.
type Match struct {
	RoomToken   string   `json:"room_token" validate:"required"`
	IsInitiator bool     `json:"is_initiator"`
	Partner     Identity `json:"partner"`
}

// ParticipantColors is the fixed palette a joining client picks its color
// tag from. Purely cosmetic, carried in presence broadcasts only.
var ParticipantColors = []string{
	"#30bced",
	"#6eeb83",
	"#ffbc42",
	"#ecd444",
	"#ee6352",
	"#9ac2c9",
	"#8acb88",
	"#1be7ff",
}

// Session state map keys. Each key is written by protocol logic only,
// never by raw user edits, so last-writer-wins per key is safe.
const (
	StateKeySyncMarker     = "syncMarker"
	StateKeyCodeRef        = "codeRef"
	StateKeyActiveLanguage = "activeLanguage"
	StateKeyPendingSub     = "pendingSubmission"
)
