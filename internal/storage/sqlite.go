package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nightyworks/dm-relay-bridge/internal/config"
	"github.com/nightyworks/dm-relay-bridge/internal/domain"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func Open(cfg config.Config) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dm_relays (
			user_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			webhook_id TEXT NOT NULL,
			webhook_token TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration query: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) UpsertRelay(ctx context.Context, mapping domain.RelayMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dm_relays (user_id, channel_id, webhook_id, webhook_token, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(user_id)
		DO UPDATE SET
			channel_id = excluded.channel_id,
			webhook_id = excluded.webhook_id,
			webhook_token = excluded.webhook_token,
			updated_at = datetime('now');
	`, mapping.UserID, mapping.ChannelID, mapping.WebhookID, mapping.WebhookToken)
	return err
}

func (s *SQLiteStore) DeleteRelay(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dm_relays WHERE user_id = ?;`, userID)
	return err
}

func (s *SQLiteStore) GetRelay(ctx context.Context, userID string) (domain.RelayMapping, bool, error) {
	var mapping domain.RelayMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, channel_id, webhook_id, webhook_token
		FROM dm_relays
		WHERE user_id = ?
		LIMIT 1;
	`, userID).Scan(&mapping.UserID, &mapping.ChannelID, &mapping.WebhookID, &mapping.WebhookToken)
	if err == nil {
		return mapping, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RelayMapping{}, false, nil
	}
	return domain.RelayMapping{}, false, err
}

func (s *SQLiteStore) ListRelays(ctx context.Context) ([]domain.RelayMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, channel_id, webhook_id, webhook_token FROM dm_relays;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.RelayMapping, 0)
	for rows.Next() {
		var mapping domain.RelayMapping
		if err := rows.Scan(&mapping.UserID, &mapping.ChannelID, &mapping.WebhookID, &mapping.WebhookToken); err != nil {
			return nil, err
		}
		out = append(out, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
