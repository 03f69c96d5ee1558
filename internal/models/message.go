package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of a session transcript. Model messages are created
// empty and grow while their reply streams in.
type Message struct {
	ID         string           `json:"id"`
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	IsPinned   bool             `json:"isPinned,omitempty"`
	Files      []FileAttachment `json:"files,omitempty"`
	SourceInfo string           `json:"sourceInfo,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Files != nil {
		files := make([]FileAttachment, len(m.Files))
		copy(files, m.Files)
		m.Files = files
	}
	return m
}
