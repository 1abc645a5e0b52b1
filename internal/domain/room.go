package domain

type (
	RoomName string
	RoomID   string
)

type Room struct {
	ID   RoomID
	Name RoomName
}

// RoomSettings mirrors what the hub pushes on RoomSettingsUpdated.
type RoomSettings struct {
	Name        RoomName `json:"name"`
	Description string   `json:"description,omitempty"`
	IsPrivate   bool     `json:"isPrivate"`
	MaxMembers  int      `json:"maxMembers"`
	VoiceOn     bool     `json:"voiceEnabled"`
}
