// Package persistence saves the session list and theme between runs.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jomidokhol/nur-ai/internal/models"
)

var (
	// ErrNoSnapshot is returned when nothing was saved yet.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrCorruptSnapshot is returned when a saved record cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// Store persists the full session list and the theme preference.
type Store interface {
	Save(ctx context.Context, sessions []models.Session) error
	Load(ctx context.Context) ([]models.Session, error)
	SaveTheme(ctx context.Context, theme models.Theme) error
	LoadTheme(ctx context.Context) (models.Theme, error)
	Close() error
}

// Keys names the records the sessions and theme are stored under.
type Keys struct {
	Sessions string
	Theme    string
}

func encodeSessions(sessions []models.Session) (string, error) {
	if sessions == nil {
		sessions = []models.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return "", fmt.Errorf("encode sessions: %w", err)
	}
	return string(data), nil
}

func decodeSessions(raw string) ([]models.Session, error) {
	var sessions []models.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return sessions, nil
}

func decodeTheme(raw string) (models.Theme, error) {
	theme := models.Theme(raw)
	if !theme.Valid() {
		return "", fmt.Errorf("%w: unknown theme %q", ErrCorruptSnapshot, raw)
	}
	return theme, nil
}
