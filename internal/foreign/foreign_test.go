package foreign

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"mercury-chat/backup-engine/internal/storage"
	"mercury-chat/backup-engine/pkg/models"
)

const foreignSchema = `
CREATE TABLE messages (
	_id             INTEGER PRIMARY KEY,
	key_remote_jid  TEXT NOT NULL,
	remote_resource TEXT,
	timestamp       INTEGER NOT NULL,
	key_from_me     INTEGER NOT NULL DEFAULT 0,
	data            TEXT,
	media_wa_type   INTEGER NOT NULL DEFAULT 0,
	media_caption   TEXT
);
CREATE TABLE message_media (
	message_row_id INTEGER NOT NULL,
	file_path      TEXT,
	file_size      INTEGER,
	mime_type      TEXT
);
CREATE TABLE chat (
	jid_row_id INTEGER NOT NULL,
	subject    TEXT
);
CREATE TABLE jid (
	_id        INTEGER PRIMARY KEY,
	raw_string TEXT NOT NULL
);
`

type foreignFixture struct {
	t    *testing.T
	db   *sql.DB
	path string
}

func newForeignFixture(t *testing.T) *foreignFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msgstore.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	if _, err := db.Exec(foreignSchema); err != nil {
		t.Fatalf("fixture schema: %v", err)
	}
	f := &foreignFixture{t: t, db: db, path: path}
	t.Cleanup(func() { db.Close() })
	return f
}

func (f *foreignFixture) addMessage(jid, sender string, ts int64, fromMe int, body any, mediaType int, caption string) int64 {
	f.t.Helper()
	res, err := f.db.Exec(
		`INSERT INTO messages (key_remote_jid, remote_resource, timestamp, key_from_me, data, media_wa_type, media_caption)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jid, sender, ts, fromMe, body, mediaType, caption)
	if err != nil {
		f.t.Fatalf("fixture insert: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func (f *foreignFixture) addMedia(rowID int64, filePath string, size int64, mimeType string) {
	f.t.Helper()
	if _, err := f.db.Exec(
		`INSERT INTO message_media (message_row_id, file_path, file_size, mime_type) VALUES (?, ?, ?, ?)`,
		rowID, filePath, size, mimeType); err != nil {
		f.t.Fatalf("fixture media: %v", err)
	}
}

func (f *foreignFixture) addChat(jid, subject string) {
	f.t.Helper()
	res, err := f.db.Exec(`INSERT INTO jid (raw_string) VALUES (?)`, jid)
	if err != nil {
		f.t.Fatalf("fixture jid: %v", err)
	}
	jidID, _ := res.LastInsertId()
	if _, err := f.db.Exec(`INSERT INTO chat (jid_row_id, subject) VALUES (?, ?)`, jidID, subject); err != nil {
		f.t.Fatalf("fixture chat: %v", err)
	}
}

func openLiveStore(t *testing.T) *storage.Store {
	t.Helper()
	live, err := storage.OpenPath(":memory:")
	if err != nil {
		t.Fatalf("open live store: %v", err)
	}
	t.Cleanup(func() { live.Close() })
	if _, err := live.EnsureSelf(context.Background(), "+15550000"); err != nil {
		t.Fatalf("ensure self: %v", err)
	}
	return live
}

func mediaFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
		t.Fatalf("media file: %v", err)
	}
	return path
}

func allPolicy() models.ImportPolicy {
	return models.ImportPolicy{IncludeGroups: true, AvoidDuplicates: false, IncludeMedia: true}
}

func TestScannerDerivesAddressesAndGroups(t *testing.T) {
	f := newForeignFixture(t)
	f.addMessage("15550001@s.whatsapp.net", "", 1000, 0, "direct", 0, "")
	f.addMessage("15550001-177@g.us", "15550002@s.whatsapp.net", 2000, 0, "group", 0, "")
	f.addMessage("15550001-177@g.us", "", 3000, 1, "mine", 0, "")
	f.addChat("15550001-177@g.us", "Family")

	store, err := OpenStore(f.path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	sc, err := store.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer sc.Close()

	direct, ok, err := sc.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("row 1: ok=%v err=%v", ok, err)
	}
	if direct.Address != "+15550001" || direct.IsGroup() {
		t.Fatalf("direct row = %+v", direct)
	}

	group, ok, err := sc.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("row 2: ok=%v err=%v", ok, err)
	}
	if !group.IsGroup() || group.GroupName != "Family" || group.Address != "+15550002" {
		t.Fatalf("group row = %+v", group)
	}

	mine, ok, err := sc.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("row 3: ok=%v err=%v", ok, err)
	}
	if !mine.IsGroup() || mine.Address != "" || !mine.FromMe {
		t.Fatalf("own group row = %+v", mine)
	}

	if _, ok, err := sc.Next(context.Background()); ok || err != nil {
		t.Fatalf("cursor did not end: ok=%v err=%v", ok, err)
	}
}

func TestImportEndToEndScenario(t *testing.T) {
	// Three foreign rows: a direct text, a group row whose title matches no
	// local group, and a media row in the same direct chat.
	ctx := context.Background()
	f := newForeignFixture(t)
	f.addMessage("15550001@s.whatsapp.net", "", 1000, 0, "hi", 0, "")
	f.addMessage("15550009-42@g.us", "15550003@s.whatsapp.net", 2000, 0, "lost", 0, "")
	f.addChat("15550009-42@g.us", "Nobody Knows This Group")
	mediaRow := f.addMessage("15550001@s.whatsapp.net", "", 3000, 0, nil, 1, "look")
	f.addMedia(mediaRow, mediaFile(t, "photo.jpg"), 777, "image/jpeg")

	live := openLiveStore(t)
	res, err := NewImporter(live).Run(ctx, f.path, allPolicy(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 3 {
		t.Fatalf("processed = %d, want 3", res.Processed)
	}
	if res.Inserted != 2 || res.Discarded != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Threads != 1 {
		t.Fatalf("threads touched = %d, want 1", res.Threads)
	}

	page, err := live.ReadMessagePage(ctx, 0, storage.ExportPageSize)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("rows = %d, want 2", len(page))
	}
	atts, err := live.Attachments(ctx, page[1].Record.ID)
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(atts) != 1 || atts[0].ContentType != "image/jpeg" || atts[0].Caption != "look" {
		t.Fatalf("attachments = %+v", atts)
	}
}

func TestImportExcludesGroupsByPolicy(t *testing.T) {
	f := newForeignFixture(t)
	f.addMessage("15550001@s.whatsapp.net", "", 1000, 0, "keep", 0, "")
	f.addMessage("15550001-1@g.us", "15550002@s.whatsapp.net", 2000, 0, "drop", 0, "")
	f.addChat("15550001-1@g.us", "Family")

	live := openLiveStore(t)
	policy := allPolicy()
	policy.IncludeGroups = false
	res, err := NewImporter(live).Run(context.Background(), f.path, policy, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Inserted != 1 || res.Discarded != 1 || res.Processed != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestImportMatchedGroupLandsInGroupThread(t *testing.T) {
	ctx := context.Background()
	f := newForeignFixture(t)
	f.addMessage("15550001-1@g.us", "15550002@s.whatsapp.net", 2000, 0, "to the group", 0, "")
	f.addChat("15550001-1@g.us", "Family")

	live := openLiveStore(t)
	alice, err := live.GetOrCreateRecipient(ctx, "+15550002")
	if err != nil {
		t.Fatalf("recipient: %v", err)
	}
	group, err := live.CreateGroup(ctx, "group:family", "Family", []models.RecipientID{alice.ID})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	res, err := NewImporter(live).Run(ctx, f.path, allPolicy(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("result = %+v", res)
	}
	groupThread, err := live.GetOrCreateThread(ctx, group.ID)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	page, err := live.ReadMessagePage(ctx, 0, storage.ExportPageSize)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(page) != 1 || page[0].Record.ThreadID != groupThread {
		t.Fatalf("message thread = %+v, want %d", page, groupThread)
	}
}

func TestImportAvoidDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newForeignFixture(t)
	f.addMessage("15550001@s.whatsapp.net", "", 1000, 0, "once", 0, "")
	f.addMessage("15550001@s.whatsapp.net", "", 2000, 1, "mine once", 0, "")

	live := openLiveStore(t)
	policy := allPolicy()
	policy.AvoidDuplicates = true

	first, err := NewImporter(live).Run(ctx, f.path, policy, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Inserted != 2 {
		t.Fatalf("first run = %+v", first)
	}
	second, err := NewImporter(live).Run(ctx, f.path, policy, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Discarded != 2 {
		t.Fatalf("second run = %+v", second)
	}
	n, err := live.CountMessages(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestImportDiscardsSystemAndUnusableMediaRows(t *testing.T) {
	f := newForeignFixture(t)
	f.addMessage("15550001@s.whatsapp.net", "", 1000, 0, nil, 0, "")
	unknownMime := f.addMessage("15550001@s.whatsapp.net", "", 2000, 0, nil, 9, "")
	f.addMedia(unknownMime, mediaFile(t, "doc.pdf"), 10, "application/pdf")
	missingFile := f.addMessage("15550001@s.whatsapp.net", "", 3000, 0, nil, 1, "")
	f.addMedia(missingFile, "/nonexistent/gone.jpg", 10, "image/jpeg")

	live := openLiveStore(t)
	res, err := NewImporter(live).Run(context.Background(), f.path, allPolicy(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Inserted != 0 || res.Discarded != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestImportVoiceNoteMapping(t *testing.T) {
	ctx := context.Background()
	f := newForeignFixture(t)
	voiceRow := f.addMessage("15550001@s.whatsapp.net", "", 1000, 0, nil, 2, "ignored caption")
	f.addMedia(voiceRow, mediaFile(t, "note.ogg"), 55, "audio/ogg; codecs=opus")

	live := openLiveStore(t)
	res, err := NewImporter(live).Run(ctx, f.path, allPolicy(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("result = %+v", res)
	}
	page, err := live.ReadMessagePage(ctx, 0, storage.ExportPageSize)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	atts, err := live.Attachments(ctx, page[0].Record.ID)
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(atts) != 1 || !atts[0].VoiceNote || atts[0].Caption != "" {
		t.Fatalf("voice note = %+v", atts)
	}
}

func TestProgressCountsEveryRow(t *testing.T) {
	f := newForeignFixture(t)
	for i := 0; i < 5; i++ {
		f.addMessage("15550001@s.whatsapp.net", "", int64(1000+i), 0, "m", 0, "")
	}

	live := openLiveStore(t)
	var last int64
	res, err := NewImporter(live).Run(context.Background(), f.path, allPolicy(), func(n int64) { last = n })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 5 {
		t.Fatalf("processed = %d", res.Processed)
	}
	if last != 5 {
		t.Fatalf("final callback value = %d, want 5", last)
	}
}
