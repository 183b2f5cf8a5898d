// Package audience expands a campaign's selection of direct contacts
// and groups into the deduplicated set of delivery obligations.
package audience

import (
	"context"
	"database/sql"
	"errors"
	"sort"
)

var ErrEmptyAudience = errors.New("audience resolution produced no contacts")

// ContactSource is the read-only slice of the store the resolver needs.
type ContactSource interface {
	FilterActiveContacts(ctx context.Context, ownerID int64, ids []int64) ([]int64, error)
	GroupContactIDs(ctx context.Context, ownerID int64, groupIDs []int64) ([]int64, error)
}

// DeliveryWriter materializes the resolved set as delivery records.
type DeliveryWriter interface {
	InsertDeliveryRecords(ctx context.Context, tx *sql.Tx, campaignID int64, contactIDs []int64) (int, error)
	SetCampaignTotal(ctx context.Context, tx *sql.Tx, id int64, total int) error
}

type Resolver struct {
	contacts ContactSource
}

func NewResolver(contacts ContactSource) *Resolver {
	return &Resolver{contacts: contacts}
}

// Resolve unions the directly-selected contacts with every selected
// group's active membership, all scoped to the owner, and dedupes: each
// contact appears once no matter how many paths led to it. The result
// is sorted by id so materialization order is stable.
func (r *Resolver) Resolve(ctx context.Context, ownerID int64, contactIDs, groupIDs []int64) ([]int64, error) {
	set := make(map[int64]struct{})

	direct, err := r.contacts.FilterActiveContacts(ctx, ownerID, contactIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range direct {
		set[id] = struct{}{}
	}

	viaGroups, err := r.contacts.GroupContactIDs(ctx, ownerID, groupIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range viaGroups {
		set[id] = struct{}{}
	}

	if len(set) == 0 {
		return nil, ErrEmptyAudience
	}

	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Materialize writes one delivery record per resolved contact inside
// the given transaction and stamps the campaign's audience total. The
// underlying insert is idempotent, so re-running after a crash cannot
// duplicate obligations.
func (r *Resolver) Materialize(ctx context.Context, tx *sql.Tx, w DeliveryWriter, campaignID int64, contactIDs []int64) (int, error) {
	if _, err := w.InsertDeliveryRecords(ctx, tx, campaignID, contactIDs); err != nil {
		return 0, err
	}
	if err := w.SetCampaignTotal(ctx, tx, campaignID, len(contactIDs)); err != nil {
		return 0, err
	}
	return len(contactIDs), nil
}
