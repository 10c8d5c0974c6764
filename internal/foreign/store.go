// Package foreign reads an external messenger's SQLite message store and
// replays its rows into the live store.
package foreign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"mercury-chat/backup-engine/pkg/models"
)

var ErrForeignImport = errors.New("foreign: import failed")

// Media type codes and the MIME types the importer understands. Anything
// else yields zero attachments.
const (
	mimeImageJPEG = "image/jpeg"
	mimeVideoMP4  = "video/mp4"
	mimeAudioOpus = "audio/ogg; codecs=opus"
)

// Store is a read-only handle on the foreign message database. The importer
// never writes through it and closes it unconditionally.
type Store struct {
	db *sql.DB
}

// OpenStore opens the foreign database read-only.
func OpenStore(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("foreign store: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open foreign store: %w", err)
	}
	// Group-name lookups run while the scan cursor is open, so the pool must
	// allow a second connection.
	db.SetMaxOpenConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CountMessages sizes the import up front for progress reporting.
func (s *Store) CountMessages(ctx context.Context, includeMedia bool) (int, error) {
	query := `SELECT COUNT(*) FROM messages`
	if !includeMedia {
		query += ` WHERE media_wa_type = 0`
	}
	var n int
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// Scanner is a single forward cursor over the foreign message table, in
// strictly increasing row order. It is finite and not restartable.
type Scanner struct {
	store *Store
	rows  *sql.Rows
}

// Scan opens the cursor. The caller must Close it.
func (s *Store) Scan(ctx context.Context) (*Scanner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT _id, key_remote_jid, remote_resource, timestamp, key_from_me,
		        data, media_wa_type, media_caption
		 FROM messages ORDER BY _id`)
	if err != nil {
		return nil, err
	}
	return &Scanner{store: s, rows: rows}, nil
}

// Next yields the next row, or ok=false at the end of the table.
func (sc *Scanner) Next(ctx context.Context) (models.ForeignMessageItem, bool, error) {
	if !sc.rows.Next() {
		return models.ForeignMessageItem{}, false, sc.rows.Err()
	}
	var (
		item    models.ForeignMessageItem
		jid     string
		sender  sql.NullString
		fromMe  int
		body    sql.NullString
		caption sql.NullString
	)
	if err := sc.rows.Scan(&item.ForeignRowID, &jid, &sender, &item.Date, &fromMe,
		&body, &item.MediaType, &caption); err != nil {
		return models.ForeignMessageItem{}, false, err
	}
	item.FromMe = fromMe != 0
	if body.Valid {
		value := body.String
		item.Body = &value
	}
	item.MediaCaption = caption.String

	bare := bareIdentifier(jid)
	if strings.Contains(bare, "-") {
		item.Group = true
		item.Address = addressFromIdentifier(sender.String)
		name, err := sc.store.groupSubject(ctx, jid)
		if err != nil {
			return models.ForeignMessageItem{}, false, err
		}
		item.GroupName = name
	} else {
		item.Address = "+" + bare
	}
	return item, true, nil
}

func (sc *Scanner) Close() error {
	return sc.rows.Close()
}

// MediaAttachments fetches at most one media row for a message and maps its
// MIME type onto an internal attachment descriptor. Unknown MIME types and
// missing files yield zero attachments.
func (s *Store) MediaAttachments(ctx context.Context, foreignRowID int64, caption string) ([]models.Attachment, error) {
	var (
		filePath sql.NullString
		fileSize sql.NullInt64
		mimeType sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path, file_size, mime_type FROM message_media
		 WHERE message_row_id = ? LIMIT 1`, foreignRowID).
		Scan(&filePath, &fileSize, &mimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !filePath.Valid || filePath.String == "" {
		return nil, nil
	}
	if _, err := os.Stat(filePath.String); err != nil {
		slog.Warn("foreign media file missing", "path", filePath.String)
		return nil, nil
	}

	att := models.Attachment{
		FileName: baseName(filePath.String),
		Path:     filePath.String,
		Size:     fileSize.Int64,
	}
	switch mimeType.String {
	case mimeImageJPEG:
		att.ContentType = mimeImageJPEG
		att.Caption = caption
	case mimeVideoMP4:
		att.ContentType = mimeVideoMP4
		att.Caption = caption
	case mimeAudioOpus:
		att.ContentType = mimeAudioOpus
		att.VoiceNote = true
	default:
		return nil, nil
	}
	return []models.Attachment{att}, nil
}

func (s *Store) groupSubject(ctx context.Context, jid string) (string, error) {
	var subject sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT c.subject FROM chat c JOIN jid j ON j._id = c.jid_row_id
		 WHERE j.raw_string = ?`, jid).Scan(&subject)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return subject.String, nil
}

// bareIdentifier strips the transport suffix from a remote identifier:
// "123456789@s.whatsapp.net" becomes "123456789".
func bareIdentifier(jid string) string {
	if at := strings.Index(jid, "@"); at >= 0 {
		return jid[:at]
	}
	return jid
}

// addressFromIdentifier derives a dialable address, empty when the
// identifier is absent (the local user).
func addressFromIdentifier(jid string) string {
	bare := bareIdentifier(jid)
	if bare == "" {
		return ""
	}
	return "+" + bare
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
