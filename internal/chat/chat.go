// Package chat abstracts the team-chat platform: posting and updating
// messages, fetching thread history, and receiving inbound events over a
// websocket. The session layer only sees the Messenger contract.
package chat

import "context"

// Message is one thread message as returned by FetchThreadMessages.
type Message struct {
	AuthorID string `json:"author"`
	Text     string `json:"text"`
	// Marker is an opaque position in the thread's message sequence,
	// usable as a since-cursor on the next fetch.
	Marker string `json:"marker"`
}

// Messenger is the outbound contract the session layer depends on.
type Messenger interface {
	// PostMessage posts text to a channel, threaded under threadID when
	// non-empty. Returns the new message's id.
	PostMessage(ctx context.Context, channelID, threadID, text string) (string, error)

	// UpdateMessage replaces the text of an existing message.
	UpdateMessage(ctx context.Context, channelID, messageID, text string) error

	// FetchThreadMessages returns thread messages after sinceMarker
	// (all messages when empty), oldest first.
	FetchThreadMessages(ctx context.Context, channelID, threadID, sinceMarker string) ([]Message, error)
}

// Event is one inbound event from the platform's websocket stream.
type Event struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel"`
	// ThreadID is the root marker of the thread; empty for top-level
	// channel messages.
	ThreadID  string `json:"thread"`
	AuthorID  string `json:"author"`
	Text      string `json:"text"`
	Marker    string `json:"marker"`
	Permalink string `json:"permalink"`
}

// ConversationID returns the stable identifier for the conversation this
// event belongs to: the thread root, or the event's own marker for a
// top-level message that starts a new thread.
func (e Event) ConversationID() string {
	if e.ThreadID != "" {
		return e.ThreadID
	}
	return e.Marker
}
