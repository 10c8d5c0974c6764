package foreign

import (
	"context"
	"fmt"
	"log/slog"

	"mercury-chat/backup-engine/internal/progress"
	"mercury-chat/backup-engine/internal/storage"
	"mercury-chat/backup-engine/internal/translate"
	"mercury-chat/backup-engine/pkg/models"
)

// Importer replays a foreign store into the live store. One Run is one live
// store transaction: every accepted row commits together or none do.
type Importer struct {
	Live *storage.Store
}

func NewImporter(live *storage.Store) *Importer {
	return &Importer{Live: live}
}

// Result summarizes one foreign import run. Discarded rows still count
// toward progress.
type Result struct {
	Processed int64
	Inserted  int
	Discarded int
	Threads   int
}

// Run imports every row of the foreign store at foreignPath under the given
// policy. The foreign database is closed whether the run succeeds or not.
func (im *Importer) Run(ctx context.Context, foreignPath string, policy models.ImportPolicy, callback progress.Callback) (Result, error) {
	store, err := OpenStore(foreignPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrForeignImport, err)
	}
	defer store.Close()

	counter := progress.NewCounter("foreign_import", callback)
	defer counter.Flush()

	tx, err := im.Live.BeginImport(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrForeignImport, err)
	}
	res, err := im.replay(ctx, tx, store, policy, counter)
	if err != nil {
		tx.Rollback()
		return Result{}, fmt.Errorf("%w: %v", ErrForeignImport, err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrForeignImport, err)
	}
	res.Processed = counter.Value()
	slog.Info("foreign import complete",
		"processed", res.Processed, "inserted", res.Inserted,
		"discarded", res.Discarded, "threads", res.Threads)
	return res, nil
}

func (im *Importer) replay(ctx context.Context, tx *storage.ImportTx, store *Store, policy models.ImportPolicy, counter *progress.Counter) (Result, error) {
	self, err := tx.Self(ctx)
	if err != nil {
		return Result{}, err
	}

	scanner, err := store.Scan(ctx)
	if err != nil {
		return Result{}, err
	}
	defer scanner.Close()

	var res Result
	modified := make(map[models.ThreadID]struct{})
	for {
		item, ok, err := scanner.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		counter.Increment()

		inserted, thread, err := im.importRow(ctx, tx, store, self, item, policy)
		if err != nil {
			return Result{}, err
		}
		if !inserted {
			res.Discarded++
			continue
		}
		modified[thread] = struct{}{}
		res.Inserted++
	}

	for thread := range modified {
		if err := tx.TouchThread(ctx, thread); err != nil {
			return Result{}, err
		}
	}
	res.Threads = len(modified)
	return res, nil
}

func (im *Importer) importRow(ctx context.Context, tx *storage.ImportTx, store *Store, self models.Recipient, item models.ForeignMessageItem, policy models.ImportPolicy) (bool, models.ThreadID, error) {
	if item.IsGroup() && !policy.IncludeGroups {
		return false, 0, nil
	}

	sender := self
	if item.Address != "" {
		var err error
		sender, err = tx.GetOrCreateRecipient(ctx, item.Address)
		if err != nil {
			return false, 0, err
		}
	}

	var thread models.ThreadID
	if item.IsGroup() {
		group, found, err := matchGroup(ctx, tx, sender.ID, item.GroupName)
		if err != nil {
			return false, 0, err
		}
		if !found {
			return false, 0, nil
		}
		thread, err = tx.GetOrCreateThread(ctx, group.RecipientID)
		if err != nil {
			return false, 0, err
		}
	} else {
		var err error
		thread, err = tx.GetOrCreateThread(ctx, sender.ID)
		if err != nil {
			return false, 0, err
		}
	}

	var attachments []models.Attachment
	if item.MediaType != 0 {
		if !policy.IncludeMedia {
			return false, 0, nil
		}
		var err error
		attachments, err = store.MediaAttachments(ctx, item.ForeignRowID, item.MediaCaption)
		if err != nil {
			return false, 0, err
		}
		if len(attachments) == 0 {
			return false, 0, nil
		}
	} else if item.Body == nil {
		// System rows carry no content.
		return false, 0, nil
	}

	from := sender.ID
	if item.FromMe {
		from = self.ID
	}
	if policy.AvoidDuplicates {
		exists, err := tx.MessageExists(ctx, thread, item.Date, from)
		if err != nil {
			return false, 0, err
		}
		if exists {
			return false, 0, nil
		}
	}

	rec := buildRecord(item, self, sender, thread)
	if item.MediaType != 0 {
		if _, _, err := tx.InsertMediaMessage(ctx, rec, attachments); err != nil {
			return false, 0, err
		}
	} else {
		if _, err := tx.InsertTextMessage(ctx, rec); err != nil {
			return false, 0, err
		}
	}
	return true, thread, nil
}

// matchGroup scans the sender's groups for one whose stored title equals the
// recovered foreign group name. The first match wins; duplicate titles are an
// accepted ambiguity of the source data.
func matchGroup(ctx context.Context, tx *storage.ImportTx, member models.RecipientID, name string) (models.GroupRecord, bool, error) {
	if name == "" {
		return models.GroupRecord{}, false, nil
	}
	groups, err := tx.FindGroupsContaining(ctx, member)
	if err != nil {
		return models.GroupRecord{}, false, err
	}
	for _, g := range groups {
		if g.Title == name {
			return g, true, nil
		}
	}
	return models.GroupRecord{}, false, nil
}

func buildRecord(item models.ForeignMessageItem, self, sender models.Recipient, thread models.ThreadID) models.MessageRecord {
	messageType := translate.BaseInboxType
	from, to := sender.ID, self.ID
	if item.FromMe {
		messageType = translate.BaseSentType
		from, to = self.ID, sender.ID
	}
	body := ""
	if item.Body != nil {
		body = *item.Body
	}
	return models.MessageRecord{
		FromRecipient: from,
		ToRecipient:   to,
		ThreadID:      thread,
		DateSent:      item.Date,
		DateReceived:  item.Date,
		Read:          1,
		Status:        models.StatusNone,
		Type:          messageType,
		Body:          body,
	}
}
