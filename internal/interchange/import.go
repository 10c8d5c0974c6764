package interchange

import (
	"context"
	"io"
	"log/slog"

	"mercury-chat/backup-engine/internal/storage"
	"mercury-chat/backup-engine/internal/translate"
	"mercury-chat/backup-engine/pkg/models"
)

// Importer replays an interchange document into the live store inside a
// single transaction.
type Importer struct {
	Store *storage.Store
}

func NewImporter(store *storage.Store) *Importer {
	return &Importer{Store: store}
}

// ImportResult summarizes one import call.
type ImportResult struct {
	Inserted int
	Skipped  int
	Threads  int
}

// Import streams r into the store. Any parse failure rolls the whole
// transaction back; nothing partial is ever committed.
func (im *Importer) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	rd, err := NewReader(r)
	if err != nil {
		return ImportResult{}, err
	}

	tx, err := im.Store.BeginImport(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	res, err := im.replay(ctx, tx, rd)
	if err != nil {
		tx.Rollback()
		return ImportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	slog.Info("plaintext import complete",
		"inserted", res.Inserted, "skipped", res.Skipped, "threads", res.Threads)
	return res, nil
}

func (im *Importer) replay(ctx context.Context, tx *storage.ImportTx, rd *Reader) (ImportResult, error) {
	self, err := tx.Self(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	modified := make(map[models.ThreadID]struct{})
	for {
		item, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ImportResult{}, err
		}

		address := models.NormalizeAddress(item.Address)
		if address == "" || !translate.Importable(item.Type) {
			res.Skipped++
			continue
		}

		remote, err := tx.GetOrCreateRecipient(ctx, address)
		if err != nil {
			return ImportResult{}, err
		}
		thread, err := tx.GetOrCreateThread(ctx, remote.ID)
		if err != nil {
			return ImportResult{}, err
		}
		if _, err := tx.InsertTextMessage(ctx, buildRecord(item, self, remote, thread)); err != nil {
			return ImportResult{}, err
		}
		modified[thread] = struct{}{}
		res.Inserted++
	}

	for thread := range modified {
		if err := tx.TouchThread(ctx, thread); err != nil {
			return ImportResult{}, err
		}
	}
	res.Threads = len(modified)
	return res, nil
}

// buildRecord turns one accepted item into a live message row. Incoming rows
// run remote-to-self, outgoing ones self-to-remote.
func buildRecord(item models.InterchangeItem, self, remote models.Recipient, thread models.ThreadID) models.MessageRecord {
	messageType := translate.FromInterchange(item.Type)
	from, to := remote, self
	if !translate.IsInbox(messageType) {
		from, to = self, remote
	}
	return models.MessageRecord{
		FromRecipient: from.ID,
		ToRecipient:   to.ID,
		ThreadID:      thread,
		DateSent:      item.Date,
		DateReceived:  item.Date,
		Read:          item.Read,
		Status:        item.Status,
		Type:          messageType,
		Body:          item.Body,
	}
}
