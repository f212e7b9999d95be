package pglinks

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS telegram_links (
  user_id TEXT NOT NULL,
  vin TEXT NOT NULL,
  locale TEXT NOT NULL DEFAULT 'en',
  display_name TEXT NULL,
  linked_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (user_id, vin)
)`,
		`CREATE INDEX IF NOT EXISTS idx_telegram_links_vin ON telegram_links(vin)`,
		// Older deployments stored an empty locale.
		`UPDATE telegram_links SET locale = 'en' WHERE locale = ''`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
