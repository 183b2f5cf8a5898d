package store

import (
	"context"
	"database/sql"
)

// DeliveryRow is one obligation to send a campaign's content to one
// contact. Rows are unique per (campaign, contact), created in bulk at
// campaign creation, mutated only by the dispatch loop and never
// deleted. A pending row with attempts > 0 is implicitly awaiting
// retry.
type DeliveryRow struct {
	ID              int64
	CampaignID      int64
	ContactID       int64
	Status          string
	Attempts        int
	RenderedContent sql.NullString
	LastError       sql.NullString
	SentAt          sql.NullTime
	FailedAt        sql.NullTime

	// joined from contacts for dispatch
	ContactName  string
	ContactPhone string
}

const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// InsertDeliveryRecords creates one pending record per contact inside
// the caller's transaction. The insert is idempotent: a conflicting
// duplicate is a no-op, so re-running audience materialization after a
// crash cannot create duplicate obligations. Returns how many rows were
// actually inserted.
func (s *Store) InsertDeliveryRecords(ctx context.Context, tx *sql.Tx, campaignID int64, contactIDs []int64) (int, error) {
	inserted := 0
	for _, cid := range contactIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_contacts (campaign_id, contact_id, status)
			VALUES ($1, $2, 'pending')
			ON CONFLICT (campaign_id, contact_id) DO NOTHING
		`, campaignID, cid)
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// SelectPendingBatch loads up to limit pending records in insertion
// order, so every record is eventually covered and none is skipped
// indefinitely. Only pending rows are selected; sent and failed rows
// can never be picked up again.
func (s *Store) SelectPendingBatch(ctx context.Context, campaignID int64, limit int) ([]DeliveryRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT cc.id, cc.campaign_id, cc.contact_id, cc.status, cc.attempts,
		       cc.rendered_content, cc.last_error, cc.sent_at, cc.failed_at,
		       ct.name, ct.phone
		FROM campaign_contacts cc
		JOIN contacts ct ON ct.id = cc.contact_id
		WHERE cc.campaign_id = $1 AND cc.status = 'pending'
		ORDER BY cc.id ASC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRow
	for rows.Next() {
		var d DeliveryRow
		if err := rows.Scan(
			&d.ID, &d.CampaignID, &d.ContactID, &d.Status, &d.Attempts,
			&d.RenderedContent, &d.LastError, &d.SentAt, &d.FailedAt,
			&d.ContactName, &d.ContactPhone,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CountPending(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_contacts
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID).Scan(&n)
	return n, err
}

// MarkDeliverySent finalizes a record after a successful send, storing
// the content actually delivered for audit. Guarded on pending so a
// redelivered batch cannot re-count an already sent record.
func (s *Store) MarkDeliverySent(ctx context.Context, id int64, rendered string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_contacts
		   SET status = 'sent', attempts = attempts + 1,
		       rendered_content = $2, last_error = NULL, sent_at = NOW()
		 WHERE id = $1 AND status = 'pending'
	`, id, rendered)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDeliveryRetry records a failed attempt that still has attempts
// remaining. The row stays pending; a later batch picks it up again.
func (s *Store) MarkDeliveryRetry(ctx context.Context, id int64, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_contacts
		   SET attempts = attempts + 1, last_error = $2
		 WHERE id = $1 AND status = 'pending'
	`, id, lastErr)
	return err
}

// MarkDeliveryFailed terminates a record after its attempts are
// exhausted. Failed is terminal; the row never reverts to pending.
func (s *Store) MarkDeliveryFailed(ctx context.Context, id int64, lastErr string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_contacts
		   SET status = 'failed', attempts = attempts + 1,
		       last_error = $2, failed_at = NOW()
		 WHERE id = $1 AND status = 'pending'
	`, id, lastErr)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
