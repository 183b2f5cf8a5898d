package store

import (
	"context"
	"database/sql"
)

type ContactRow struct {
	ID      int64
	OwnerID int64
	Name    string
	Phone   string
	Active  bool
}

type ChannelRow struct {
	ID           int64
	OwnerID      int64
	Name         string
	Connected    bool
	MessagesSent int64
}

type TemplateRow struct {
	ID      int64
	OwnerID int64
	Name    string
	Content string
}

func (s *Store) GetContact(ctx context.Context, ownerID, id int64) (ContactRow, error) {
	var c ContactRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, phone, active
		FROM contacts WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Active)
	return c, err
}

// FilterActiveContacts narrows a directly-selected id set to contacts
// that exist, are active and belong to the owner.
func (s *Store) FilterActiveContacts(ctx context.Context, ownerID int64, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryIDs(ctx, `
		SELECT id FROM contacts
		WHERE owner_id = $1 AND active AND id = ANY($2)
		ORDER BY id
	`, ownerID, int64Slice(ids))
}

// GroupContactIDs expands group selections into member contact ids,
// keeping only active memberships of active, owner-scoped contacts.
func (s *Store) GroupContactIDs(ctx context.Context, ownerID int64, groupIDs []int64) ([]int64, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	return s.queryIDs(ctx, `
		SELECT DISTINCT ct.id
		FROM group_members gm
		JOIN contact_groups g ON g.id = gm.group_id AND g.owner_id = $1
		JOIN contacts ct ON ct.id = gm.contact_id AND ct.owner_id = $1 AND ct.active
		WHERE gm.group_id = ANY($2) AND gm.active
		ORDER BY ct.id
	`, ownerID, int64Slice(groupIDs))
}

func (s *Store) GetChannel(ctx context.Context, id int64) (ChannelRow, error) {
	var c ChannelRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, connected, messages_sent
		FROM channels WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Connected, &c.MessagesSent)
	return c, err
}

// ChannelConnected is the precondition gate for entering and staying in
// the running state. sql.ErrNoRows means the channel reference is dead,
// which callers treat the same as disconnected.
func (s *Store) ChannelConnected(ctx context.Context, id int64) (bool, error) {
	var connected bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT connected FROM channels WHERE id = $1`, id).Scan(&connected)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return connected, err
}

// AddChannelSent bumps the channel usage counter after successful
// sends.
func (s *Store) AddChannelSent(ctx context.Context, id int64, n int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE channels SET messages_sent = messages_sent + $2 WHERE id = $1`, id, n)
	return err
}

func (s *Store) GetTemplate(ctx context.Context, ownerID, id int64) (TemplateRow, error) {
	var t TemplateRow
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, name, content
		FROM templates WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&t.ID, &t.OwnerID, &t.Name, &t.Content)
	return t, err
}
