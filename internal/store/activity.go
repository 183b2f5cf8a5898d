package store

import (
	"context"
	"database/sql"
	"time"
)

// ActivityRow is the durable form of one activity event.
type ActivityRow struct {
	ID          string
	OwnerID     int64
	Type        string
	Status      string
	Title       string
	Description string
	CampaignID  sql.NullInt64
	ChannelID   sql.NullInt64
	ContactID   sql.NullInt64
	TemplateID  sql.NullInt64
	CreatedAt   time.Time
}

func (s *Store) InsertActivity(ctx context.Context, a ActivityRow) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO activities
			(id, owner_id, type, status, title, description,
			 campaign_id, channel_id, contact_id, template_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.OwnerID, a.Type, a.Status, a.Title, a.Description,
		a.CampaignID, a.ChannelID, a.ContactID, a.TemplateID, a.CreatedAt)
	return err
}

func (s *Store) ListActivities(ctx context.Context, ownerID int64, limit int) ([]ActivityRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, type, status, title, description,
		       campaign_id, channel_id, contact_id, template_id, created_at
		FROM activities
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityRow
	for rows.Next() {
		var a ActivityRow
		if err := rows.Scan(
			&a.ID, &a.OwnerID, &a.Type, &a.Status, &a.Title, &a.Description,
			&a.CampaignID, &a.ChannelID, &a.ContactID, &a.TemplateID, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
