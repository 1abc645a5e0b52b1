package domain

import "time"

// ChatMessage is one entry in the message stream. Immutable once appended;
// the stream only drops entries on an explicit delete by server id.
type ChatMessage struct {
	LocalSeq   int64     `json:"localSeq"`
	ServerID   string    `json:"serverId,omitempty"`
	AuthorID   UserID    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`

	// True for an optimistic local echo until the hub confirms attribution,
	// at which point the entry is collapsed with the inbound copy.
	IsLocalEcho bool `json:"isLocalEcho"`
}
