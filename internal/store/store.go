// Package store holds the ordered collection of chat sessions.
//
// A Store is not safe for concurrent use. It is owned by a single writer
// (the chat controller) which serialises every call.
package store

import "github.com/jomidokhol/nur-ai/internal/models"

// Store is an ordered sequence of sessions, most recent first, plus the
// id of the current session.
type Store struct {
	sessions []*models.Session
	current  string
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	return len(s.sessions)
}

// Sessions returns deep copies of all sessions in order.
func (s *Store) Sessions() []models.Session {
	out := make([]models.Session, 0, len(s.sessions))
	for _, se := range s.sessions {
		out = append(out, se.Clone())
	}
	return out
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (models.Session, bool) {
	se := s.find(id)
	if se == nil {
		return models.Session{}, false
	}
	return se.Clone(), true
}

// CurrentID returns the current session id, or "" when none is selected.
func (s *Store) CurrentID() string {
	return s.current
}

// Current returns a copy of the current session.
func (s *Store) Current() (models.Session, bool) {
	if s.current == "" {
		return models.Session{}, false
	}
	return s.Session(s.current)
}

// SetCurrent makes id the current session. An empty id clears the
// selection. Unknown ids are rejected.
func (s *Store) SetCurrent(id string) bool {
	if id == "" {
		s.current = ""
		return true
	}
	if s.find(id) == nil {
		return false
	}
	s.current = id
	return true
}

// Prepend inserts a session at the front.
func (s *Store) Prepend(session models.Session) {
	se := session.Clone()
	s.sessions = append([]*models.Session{&se}, s.sessions...)
}

// Remove deletes a session. When it was current, the first remaining
// session becomes current, or none.
func (s *Store) Remove(id string) bool {
	idx := s.index(id)
	if idx < 0 {
		return false
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if s.current == id {
		s.current = ""
		if len(s.sessions) > 0 {
			s.current = s.sessions[0].ID
		}
	}
	return true
}

// AppendMessage adds msg to the end of a session's transcript.
func (s *Store) AppendMessage(sessionID string, msg models.Message) bool {
	se := s.find(sessionID)
	if se == nil {
		return false
	}
	se.Messages = append(se.Messages, msg.Clone())
	return true
}

// UpdateMessage applies fn to the message in place.
func (s *Store) UpdateMessage(sessionID, messageID string, fn func(*models.Message)) bool {
	se := s.find(sessionID)
	if se == nil {
		return false
	}
	for i := range se.Messages {
		if se.Messages[i].ID == messageID {
			fn(&se.Messages[i])
			return true
		}
	}
	return false
}

// FindMessage returns a copy of a message and its index in the session.
func (s *Store) FindMessage(sessionID, messageID string) (models.Message, int, bool) {
	se := s.find(sessionID)
	if se == nil {
		return models.Message{}, -1, false
	}
	for i, m := range se.Messages {
		if m.ID == messageID {
			return m.Clone(), i, true
		}
	}
	return models.Message{}, -1, false
}

// TruncateFrom drops the message with the given id and every later one.
func (s *Store) TruncateFrom(sessionID, messageID string) bool {
	se := s.find(sessionID)
	if se == nil {
		return false
	}
	for i, m := range se.Messages {
		if m.ID == messageID {
			se.Messages = se.Messages[:i:i]
			return true
		}
	}
	return false
}

// SetTitle renames a session.
func (s *Store) SetTitle(sessionID, title string) bool {
	se := s.find(sessionID)
	if se == nil {
		return false
	}
	se.Title = title
	return true
}

// Snapshot returns the serialisable state of the store.
func (s *Store) Snapshot() []models.Session {
	return s.Sessions()
}

// Restore replaces all sessions. Sessions without an id are skipped and the
// current selection moves to the first session.
func (s *Store) Restore(sessions []models.Session) {
	s.sessions = s.sessions[:0]
	seen := make(map[string]struct{}, len(sessions))
	for _, se := range sessions {
		if se.ID == "" {
			continue
		}
		if _, dup := seen[se.ID]; dup {
			continue
		}
		seen[se.ID] = struct{}{}
		c := se.Clone()
		s.sessions = append(s.sessions, &c)
	}
	s.current = ""
	if len(s.sessions) > 0 {
		s.current = s.sessions[0].ID
	}
}

func (s *Store) index(id string) int {
	for i, se := range s.sessions {
		if se.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) find(id string) *models.Session {
	if idx := s.index(id); idx >= 0 {
		return s.sessions[idx]
	}
	return nil
}
