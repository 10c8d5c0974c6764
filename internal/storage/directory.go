package storage

import (
	"context"
	"database/sql"
	"errors"

	"mercury-chat/backup-engine/pkg/models"
)

// GetOrCreateRecipient resolves an address to its stable recipient row,
// creating it on first sight.
func (s *Store) GetOrCreateRecipient(ctx context.Context, address string) (models.Recipient, error) {
	return getOrCreateRecipient(ctx, s.db, address)
}

// EnsureSelf registers (or re-points) the local user's recipient row.
func (s *Store) EnsureSelf(ctx context.Context, address string) (models.Recipient, error) {
	rec, err := getOrCreateRecipient(ctx, s.db, address)
	if err != nil {
		return models.Recipient{}, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE recipients SET self = 0 WHERE self = 1 AND id != ?`, rec.ID); err != nil {
		return models.Recipient{}, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE recipients SET self = 1 WHERE id = ?`, rec.ID); err != nil {
		return models.Recipient{}, err
	}
	rec.Self = true
	return rec, nil
}

// Self returns the local user's recipient, or ErrNoSelf.
func (s *Store) Self(ctx context.Context) (models.Recipient, error) {
	return selfRecipient(ctx, s.db)
}

// GetOrCreateThread resolves the conversation for a recipient.
func (s *Store) GetOrCreateThread(ctx context.Context, recipient models.RecipientID) (models.ThreadID, error) {
	return getOrCreateThread(ctx, s.db, recipient)
}

// FindGroupsContaining lists the groups a recipient is a member of, in group
// creation order.
func (s *Store) FindGroupsContaining(ctx context.Context, recipient models.RecipientID) ([]models.GroupRecord, error) {
	return findGroupsContaining(ctx, s.db, recipient)
}

// CreateGroup registers a group conversation: a recipient row for the group
// address, its title and its member set.
func (s *Store) CreateGroup(ctx context.Context, address, title string, members []models.RecipientID) (models.Recipient, error) {
	group, err := getOrCreateRecipient(ctx, s.db, address)
	if err != nil {
		return models.Recipient{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO group_records (recipient_id, title) VALUES (?, ?)
		 ON CONFLICT(recipient_id) DO UPDATE SET title = excluded.title`,
		group.ID, title); err != nil {
		return models.Recipient{}, err
	}
	for _, member := range members {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_recipient_id, member_recipient_id) VALUES (?, ?)`,
			group.ID, member); err != nil {
			return models.Recipient{}, err
		}
	}
	return group, nil
}

func getOrCreateRecipient(ctx context.Context, q querier, address string) (models.Recipient, error) {
	rec, err := recipientByAddress(ctx, q, address)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Recipient{}, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO recipients (address) VALUES (?)`, address)
	if err != nil {
		return models.Recipient{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Recipient{}, err
	}
	return models.Recipient{ID: models.RecipientID(id), Address: address}, nil
}

func recipientByAddress(ctx context.Context, q querier, address string) (models.Recipient, error) {
	var rec models.Recipient
	err := q.QueryRowContext(ctx,
		`SELECT id, address, display_name, self FROM recipients WHERE address = ?`, address).
		Scan(&rec.ID, &rec.Address, &rec.DisplayName, &rec.Self)
	return rec, err
}

func selfRecipient(ctx context.Context, q querier) (models.Recipient, error) {
	var rec models.Recipient
	err := q.QueryRowContext(ctx,
		`SELECT id, address, display_name, self FROM recipients WHERE self = 1 LIMIT 1`).
		Scan(&rec.ID, &rec.Address, &rec.DisplayName, &rec.Self)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Recipient{}, ErrNoSelf
	}
	return rec, err
}

func getOrCreateThread(ctx context.Context, q querier, recipient models.RecipientID) (models.ThreadID, error) {
	var id models.ThreadID
	err := q.QueryRowContext(ctx,
		`SELECT id FROM threads WHERE recipient_id = ?`, recipient).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO threads (recipient_id) VALUES (?)`, recipient)
	if err != nil {
		return 0, err
	}
	raw, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return models.ThreadID(raw), nil
}

func findGroupsContaining(ctx context.Context, q querier, recipient models.RecipientID) ([]models.GroupRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT g.recipient_id, g.title
		 FROM group_records g
		 JOIN group_members m ON m.group_recipient_id = g.recipient_id
		 WHERE m.member_recipient_id = ?
		 ORDER BY g.recipient_id`, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.GroupRecord
	for rows.Next() {
		var g models.GroupRecord
		if err := rows.Scan(&g.RecipientID, &g.Title); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
