package streams

import (
	"cmp"
	"strings"
	"time"

	"github.com/tphakala/safetynet-go/internal/feed"
)

// Message is one chat message.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageStream tracks messages, ordered by creation time.
type MessageStream struct {
	*Stream[Message]
}

// NewMessageStream creates the message normalizer. Subscribe it with a thread_id
// filter to follow a single thread.
func NewMessageStream(hub feed.Subscriber, fetcher feed.Fetcher, opts ...Option) *MessageStream {
	return &MessageStream{newStream(family[Message]{
		name:    "message",
		table:   feed.TableMessages,
		convert: messageFromRecord,
		compare: func(a, b Message) int {
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
		},
	}, hub, fetcher, opts...)}
}

func messageFromRecord(rec feed.Record) (Message, bool) {
	row, ok := rec.(*feed.MessageRow)
	if !ok {
		return Message{}, false
	}
	return Message{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		SenderID:  row.SenderID,
		Body:      row.Body,
		CreatedAt: row.CreatedAt,
	}, true
}
