package storage

import (
	"context"

	"mercury-chat/backup-engine/pkg/models"
)

// ExportPageSize is how many rows one export page carries.
const ExportPageSize = 500

// CountMessages returns the number of rows in the message table.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// ReadMessagePage reads one page of messages joined with the conversation
// partner's address and display name, ordered by row id.
func (s *Store) ReadMessagePage(ctx context.Context, offset, limit int) ([]models.ExportMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.from_recipient_id, m.to_recipient_id, m.thread_id,
		        m.date_sent, m.date_received, m.read, m.status, m.type, m.body,
		        r.address, r.display_name
		 FROM messages m
		 JOIN threads t ON t.id = m.thread_id
		 JOIN recipients r ON r.id = t.recipient_id
		 ORDER BY m.id
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []models.ExportMessage
	for rows.Next() {
		var msg models.ExportMessage
		rec := &msg.Record
		if err := rows.Scan(&rec.ID, &rec.FromRecipient, &rec.ToRecipient, &rec.ThreadID,
			&rec.DateSent, &rec.DateReceived, &rec.Read, &rec.Status, &rec.Type, &rec.Body,
			&msg.FromAddress, &msg.FromName); err != nil {
			return nil, err
		}
		page = append(page, msg)
	}
	return page, rows.Err()
}

// Attachments returns the attachment records of one message.
func (s *Store) Attachments(ctx context.Context, messageID int64) ([]models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_type, file_name, path, size, voice_note, caption
		 FROM attachments WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ContentType, &a.FileName, &a.Path, &a.Size, &a.VoiceNote, &a.Caption); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
