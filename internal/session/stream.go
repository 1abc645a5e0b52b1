package session

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
)

// echoWindow bounds local-echo correlation: a server copy of our own message
// arriving later than this is treated as a distinct message.
const echoWindow = 10 * time.Second

// MessageStream keeps the ordered, duplicate-free view of chat. A local send
// is appended optimistically and later collapsed with the hub's confirmation
// instead of showing twice.
type MessageStream struct {
	mu      sync.Mutex
	msgs    []domain.ChatMessage
	nextSeq int64
	now     func() time.Time
}

func NewMessageStream() *MessageStream {
	return &MessageStream{now: time.Now}
}

// AppendLocal appends the optimistic echo before any RPC is dispatched.
func (s *MessageStream) AppendLocal(authorID domain.UserID, authorName, body string) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	msg := domain.ChatMessage{
		LocalSeq:    s.nextSeq,
		AuthorID:    authorID,
		AuthorName:  authorName,
		Body:        body,
		SentAt:      s.now(),
		IsLocalEcho: true,
	}
	s.msgs = append(s.msgs, msg)
	return msg
}

// ApplyInbound folds a hub message in. Our own messages are correlated with
// the pending echo by (author, trimmed body, time window); if a match is
// found the echo is confirmed in place and nothing new is appended. The
// returned bool reports whether a new entry was added.
func (s *MessageStream) ApplyInbound(in hub.InboundMessage, selfID domain.UserID) (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.UserID == selfID {
		for i := range s.msgs {
			m := &s.msgs[i]
			if !m.IsLocalEcho || m.AuthorID != selfID {
				continue
			}
			if strings.TrimSpace(m.Body) != strings.TrimSpace(in.Body) {
				continue
			}
			if delta := in.SentAt.Sub(m.SentAt); delta < -echoWindow || delta > echoWindow {
				continue
			}
			m.IsLocalEcho = false
			m.ServerID = in.MessageID
			// Server copy wins; it may have normalized whitespace.
			m.Body = in.Body
			m.SentAt = in.SentAt
			return *m, false
		}
		// No correlation within tolerance; the server text differs enough
		// to count as its own message.
	}

	s.nextSeq++
	msg := domain.ChatMessage{
		LocalSeq:   s.nextSeq,
		ServerID:   in.MessageID,
		AuthorID:   in.UserID,
		AuthorName: in.Username,
		Body:       in.Body,
		SentAt:     in.SentAt,
	}
	s.msgs = append(s.msgs, msg)
	return msg, true
}

// ApplyDeleted removes the single entry carrying the server id. Deleting an
// unknown id is a no-op.
func (s *MessageStream) ApplyDeleted(serverID string) {
	if serverID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ServerID == serverID {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			log.Debug().Str("module", "session.stream").Str("message_id", serverID).Msg("message deleted")
			return
		}
	}
}

// Messages returns a copy in hub delivery order.
func (s *MessageStream) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *MessageStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}
