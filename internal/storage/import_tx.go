package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"mercury-chat/backup-engine/pkg/models"
)

// ImportTx spans one whole import call. Every directory lookup and insert of
// the import runs on the same transaction, so a failed import leaves the live
// store untouched.
type ImportTx struct {
	tx *sql.Tx
}

// BeginImport opens the single transaction an import runs in.
func (s *Store) BeginImport(ctx context.Context) (*ImportTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ImportTx{tx: tx}, nil
}

func (t *ImportTx) Commit() error   { return t.tx.Commit() }
func (t *ImportTx) Rollback() error { return t.tx.Rollback() }

func (t *ImportTx) GetOrCreateRecipient(ctx context.Context, address string) (models.Recipient, error) {
	return getOrCreateRecipient(ctx, t.tx, address)
}

func (t *ImportTx) Self(ctx context.Context) (models.Recipient, error) {
	return selfRecipient(ctx, t.tx)
}

func (t *ImportTx) GetOrCreateThread(ctx context.Context, recipient models.RecipientID) (models.ThreadID, error) {
	return getOrCreateThread(ctx, t.tx, recipient)
}

func (t *ImportTx) FindGroupsContaining(ctx context.Context, recipient models.RecipientID) ([]models.GroupRecord, error) {
	return findGroupsContaining(ctx, t.tx, recipient)
}

// InsertTextMessage inserts one plain message row and returns its id.
func (t *ImportTx) InsertTextMessage(ctx context.Context, rec models.MessageRecord) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO messages
		 (from_recipient_id, to_recipient_id, thread_id, date_sent, date_received, read, status, type, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FromRecipient, rec.ToRecipient, rec.ThreadID,
		rec.DateSent, rec.DateReceived, rec.Read, rec.Status, rec.Type, rec.Body)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertMediaMessage inserts a message row plus its attachment records and
// returns the attachment ids keyed by position.
func (t *ImportTx) InsertMediaMessage(ctx context.Context, rec models.MessageRecord, attachments []models.Attachment) (int64, []string, error) {
	messageID, err := t.InsertTextMessage(ctx, rec)
	if err != nil {
		return 0, nil, err
	}
	ids := make([]string, 0, len(attachments))
	for _, a := range attachments {
		id := uuid.NewString()
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, content_type, file_name, path, size, voice_note, caption)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, messageID, a.ContentType, a.FileName, a.Path, a.Size, a.VoiceNote, a.Caption); err != nil {
			return 0, nil, err
		}
		ids = append(ids, id)
	}
	return messageID, ids, nil
}

// MessageExists is the pre-insert duplicate probe. The triple is not a stored
// uniqueness constraint.
func (t *ImportTx) MessageExists(ctx context.Context, thread models.ThreadID, dateSent int64, from models.RecipientID) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE thread_id = ? AND date_sent = ? AND from_recipient_id = ? LIMIT 1`,
		thread, dateSent, from).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TouchThread refreshes a thread's summary columns from its message rows.
func (t *ImportTx) TouchThread(ctx context.Context, thread models.ThreadID) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE threads SET
		   date = COALESCE((SELECT MAX(date_received) FROM messages WHERE thread_id = ?), 0),
		   snippet = COALESCE((SELECT body FROM messages WHERE thread_id = ?
		                       ORDER BY date_received DESC, id DESC LIMIT 1), ''),
		   message_count = (SELECT COUNT(*) FROM messages WHERE thread_id = ?)
		 WHERE id = ?`,
		thread, thread, thread, thread)
	return err
}
