package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jomidokhol/nur-ai/internal/models"
)

// SQLStore keeps each record as one row of the records table.
type SQLStore struct {
	db     *sql.DB
	driver string
	keys   Keys
}

// NewSQLStore wraps a migrated database handle.
func NewSQLStore(db *sql.DB, driver string, keys Keys) *SQLStore {
	return &SQLStore{db: db, driver: strings.ToLower(driver), keys: keys}
}

func (s *SQLStore) Save(ctx context.Context, sessions []models.Session) error {
	raw, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	return s.put(ctx, s.keys.Sessions, raw)
}

func (s *SQLStore) Load(ctx context.Context) ([]models.Session, error) {
	raw, err := s.get(ctx, s.keys.Sessions)
	if err != nil {
		return nil, err
	}
	return decodeSessions(raw)
}

func (s *SQLStore) SaveTheme(ctx context.Context, theme models.Theme) error {
	return s.put(ctx, s.keys.Theme, string(theme))
}

func (s *SQLStore) LoadTheme(ctx context.Context) (models.Theme, error) {
	raw, err := s.get(ctx, s.keys.Theme)
	if err != nil {
		return "", err
	}
	return decodeTheme(raw)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) put(ctx context.Context, name, value string) error {
	stmt := `INSERT INTO records (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if s.driver == "mysql" {
		stmt = `INSERT INTO records (name, value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	}
	if _, err := s.db.ExecContext(ctx, stmt, name, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("save record %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("load record %s: %w", name, err)
	}
	return value, nil
}
