package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strconv"
	"strings"
	"time"
)

// Store wraps the Postgres connection for campaigns, delivery records,
// contacts, groups, channels, templates and the durable activity log.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type CampaignRow struct {
	ID             int64
	OwnerID        int64
	ChannelID      int64
	TemplateID     sql.NullInt64
	Name           string
	Kind           string
	Content        string
	Variables      string
	Status         string
	ScheduledAt    sql.NullTime
	SendDelayMs    int
	MaxAttempts    int
	BusinessHours  bool
	HoursStart     string
	HoursEnd       string
	TotalContacts  int
	SentCount      int
	FailedCount    int
	DeliveredCount int
	ReadCount      int
	CreatedAt      time.Time
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
}

type CampaignStats struct {
	Total   int
	Pending int
	Sent    int
	Failed  int
}

const campaignCols = `id, owner_id, channel_id, template_id, name, kind, content, variables, status,
	scheduled_at, send_delay_ms, max_attempts,
	business_hours, hours_start, hours_end,
	total_contacts, sent_count, failed_count, delivered_count, read_count,
	created_at, started_at, completed_at`

func scanCampaign(row interface{ Scan(...any) error }) (CampaignRow, error) {
	var c CampaignRow
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.ChannelID, &c.TemplateID, &c.Name, &c.Kind, &c.Content, &c.Variables, &c.Status,
		&c.ScheduledAt, &c.SendDelayMs, &c.MaxAttempts,
		&c.BusinessHours, &c.HoursStart, &c.HoursEnd,
		&c.TotalContacts, &c.SentCount, &c.FailedCount, &c.DeliveredCount, &c.ReadCount,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt,
	)
	return c, err
}

func (s *Store) InsertCampaign(ctx context.Context, tx *sql.Tx, c CampaignRow) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(owner_id, channel_id, template_id, name, kind, content, variables, status,
			 scheduled_at, send_delay_ms, max_attempts,
			 business_hours, hours_start, hours_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`,
		c.OwnerID, c.ChannelID, c.TemplateID, c.Name, c.Kind, c.Content, c.Variables, c.Status,
		c.ScheduledAt, c.SendDelayMs, c.MaxAttempts,
		c.BusinessHours, c.HoursStart, c.HoursEnd,
	).Scan(&id)
	return id, err
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (CampaignRow, error) {
	return scanCampaign(s.DB.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id))
}

// TransitionStatus moves a campaign along the lifecycle graph with a
// compare-and-swap guard: the update applies only while the current
// status is one of from. Started/completed timestamps are stamped on
// the relevant transitions. Returns false when the guard did not match.
func (s *Store) TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns
		   SET status = $2,
		       started_at = CASE WHEN $2 = 'running' AND started_at IS NULL
		                         THEN NOW() ELSE started_at END,
		       completed_at = CASE WHEN $2 IN ('completed','failed','cancelled')
		                           THEN NOW() ELSE completed_at END
		 WHERE id = $1 AND status = ANY($3)
	`, id, to, stringSlice(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AddCampaignCounts bumps the aggregate counters. Deltas only, so
// at-least-once batch redelivery cannot move a counter backward.
func (s *Store) AddCampaignCounts(ctx context.Context, id int64, sentDelta, failedDelta int) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns
		   SET sent_count = sent_count + $2,
		       failed_count = failed_count + $3
		 WHERE id = $1
	`, id, sentDelta, failedDelta)
	return err
}

func (s *Store) SetCampaignTotal(ctx context.Context, tx *sql.Tx, id int64, total int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET total_contacts = $2 WHERE id = $1`, id, total)
	return err
}

func (s *Store) GetCampaignStats(ctx context.Context, id int64) (CampaignStats, error) {
	var st CampaignStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*)                                 AS total,
		  COUNT(*) FILTER (WHERE status='pending') AS pending,
		  COUNT(*) FILTER (WHERE status='sent')    AS sent,
		  COUNT(*) FILTER (WHERE status='failed')  AS failed
		FROM campaign_contacts
		WHERE campaign_id = $1
	`, id).Scan(&st.Total, &st.Pending, &st.Sent, &st.Failed)
	if err != nil {
		return CampaignStats{}, err
	}
	return st, nil
}

func (s *Store) ListCampaigns(ctx context.Context, ownerID int64, limit, offset int) ([]CampaignRow, []CampaignStats, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+campaignCols+`
		FROM campaigns
		WHERE owner_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var campaigns []CampaignRow
	var ids []int64
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, nil, err
		}
		campaigns = append(campaigns, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(campaigns) == 0 {
		return campaigns, []CampaignStats{}, nil
	}

	statRows, err := s.DB.QueryContext(ctx, `
		SELECT campaign_id,
		       COUNT(*)                                 AS total,
		       COUNT(*) FILTER (WHERE status='pending') AS pending,
		       COUNT(*) FILTER (WHERE status='sent')    AS sent,
		       COUNT(*) FILTER (WHERE status='failed')  AS failed
		FROM campaign_contacts
		WHERE campaign_id = ANY($1)
		GROUP BY campaign_id
	`, int64Slice(ids))
	if err != nil {
		return nil, nil, err
	}
	defer statRows.Close()

	statsByID := make(map[int64]CampaignStats, len(ids))
	for statRows.Next() {
		var id int64
		var st CampaignStats
		if err := statRows.Scan(&id, &st.Total, &st.Pending, &st.Sent, &st.Failed); err != nil {
			return nil, nil, err
		}
		statsByID[id] = st
	}
	if err := statRows.Err(); err != nil {
		return nil, nil, err
	}

	out := make([]CampaignStats, len(campaigns))
	for i, c := range campaigns {
		out[i] = statsByID[c.ID]
	}
	return campaigns, out, nil
}

// ListDueScheduled returns scheduled campaigns whose send time has
// arrived, for the dispatcher sweep to start.
func (s *Store) ListDueScheduled(ctx context.Context, now time.Time) ([]int64, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`, now)
}

// ListRunningWithPending returns running campaigns that still have
// pending delivery records. The sweep re-enqueues these so a campaign
// idled by business-hours gating or a lost continuation picks back up.
func (s *Store) ListRunningWithPending(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, `
		SELECT DISTINCT c.id
		FROM campaigns c
		JOIN campaign_contacts cc ON cc.campaign_id = c.id AND cc.status = 'pending'
		WHERE c.status = 'running'
		ORDER BY c.id
	`)
}

func (s *Store) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// int64Slice renders as a Postgres bigint array literal for ANY($n).
type int64Slice []int64

func (a int64Slice) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('}')
	return b.String(), nil
}

// stringSlice renders as a Postgres text array literal for ANY($n).
type stringSlice []string

func (a stringSlice) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(v, `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String(), nil
}
