package domain

// VoiceParticipant is a remote user in the voice channel. Owned exclusively
// by the voice session controller; presence only reads the id set.
type VoiceParticipant struct {
	UserID            UserID `json:"userId"`
	HasAudioPublished bool   `json:"hasAudioPublished"`
}
