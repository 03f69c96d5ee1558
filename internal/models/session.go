package models

import "time"

// PlaceholderTitle is the title of a session that has not been named yet.
const PlaceholderTitle = "New Chat"

// Session groups an ordered sequence of messages.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	msgs := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = m.Clone()
	}
	s.Messages = msgs
	return s
}
