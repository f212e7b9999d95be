package pglinks

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/pkg/errors"
)

// UpsertLink создаёт связку или обновляет locale/display_name существующей.
func (s *Storage) UpsertLink(ctx context.Context, l models.Link) error {
	if strings.TrimSpace(l.UserID) == "" || strings.TrimSpace(l.VIN) == "" {
		return errors.New("link requires user id and vin")
	}
	if l.Locale == "" {
		l.Locale = "en"
	}
	if l.LinkedAt.IsZero() {
		l.LinkedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO telegram_links (user_id, vin, locale, display_name, linked_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, vin)
DO UPDATE SET locale = EXCLUDED.locale, display_name = EXCLUDED.display_name
`, l.UserID, l.VIN, l.Locale, l.DisplayName, l.LinkedAt)
	if err != nil {
		return errors.Wrap(err, "upsert link")
	}
	return nil
}

func (s *Storage) ListLinksByVIN(ctx context.Context, vin string) ([]models.Link, error) {
	rows, err := s.db.Query(ctx, `
SELECT user_id, vin, locale, display_name, linked_at
FROM telegram_links
WHERE vin = $1
ORDER BY linked_at, user_id
`, vin)
	if err != nil {
		return nil, errors.Wrap(err, "select links")
	}
	defer rows.Close()

	out := make([]models.Link, 0)
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.UserID, &l.VIN, &l.Locale, &l.DisplayName, &l.LinkedAt); err != nil {
			return nil, errors.Wrap(err, "scan link")
		}
		l.LinkedAt = l.LinkedAt.UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows links")
	}
	return out, nil
}

// DeleteLinks удаляет все связки пользователя и возвращает затронутые VIN.
func (s *Storage) DeleteLinks(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `DELETE FROM telegram_links WHERE user_id = $1 RETURNING vin`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "delete links")
	}
	defer rows.Close()

	var vins []string
	for rows.Next() {
		var vin string
		if err := rows.Scan(&vin); err != nil {
			return nil, errors.Wrap(err, "scan vin")
		}
		vins = append(vins, vin)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows vins")
	}
	return vins, nil
}

// RemoveLink is idempotent: removing an unknown user is not an error.
func (s *Storage) RemoveLink(ctx context.Context, userID string) error {
	_, err := s.DeleteLinks(ctx, userID)
	return err
}
