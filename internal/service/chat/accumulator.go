package chat

import (
	"github.com/jomidokhol/nur-ai/internal/models"
	"github.com/jomidokhol/nur-ai/internal/store"
)

// Append concatenates a fragment onto the content received so far.
// Fragments are trusted to be incremental; nothing is deduplicated.
func Append(current, fragment string) string {
	return current + fragment
}

// accumulator grows one model message as fragments arrive.
type accumulator struct {
	sessionID string
	messageID string
}

// apply appends fragment to the target. It reports false when the target
// no longer exists.
func (a accumulator) apply(st *store.Store, fragment string) bool {
	return st.UpdateMessage(a.sessionID, a.messageID, func(m *models.Message) {
		m.Content = Append(m.Content, fragment)
	})
}
