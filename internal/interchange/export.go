package interchange

import (
	"context"
	"io"
	"log/slog"
	"unicode/utf8"

	"mercury-chat/backup-engine/internal/progress"
	"mercury-chat/backup-engine/internal/translate"
	"mercury-chat/backup-engine/pkg/models"
)

// Transport labels carried by exported items.
const (
	TransportPlain  = "sms"
	TransportSecure = "secure"
)

// MessageReader is the live-store surface the exporter pages through.
type MessageReader interface {
	CountMessages(ctx context.Context) (int, error)
	ReadMessagePage(ctx context.Context, offset, limit int) ([]models.ExportMessage, error)
}

// Exporter writes the whole message table as an interchange document.
type Exporter struct {
	Store    MessageReader
	PageSize int
	Progress *progress.Counter
}

func NewExporter(store MessageReader) *Exporter {
	return &Exporter{Store: store, PageSize: 500}
}

// Export pages through the store until an empty page and streams every row
// into w. Rows that cannot be rendered are logged and skipped; the export
// itself only fails on storage or write errors. Returns the number of items
// written.
func (e *Exporter) Export(ctx context.Context, w io.Writer) (int, error) {
	total, err := e.Store.CountMessages(ctx)
	if err != nil {
		return 0, err
	}
	wr, err := NewWriter(w, total)
	if err != nil {
		return 0, err
	}

	for offset := 0; ; offset += e.PageSize {
		page, err := e.Store.ReadMessagePage(ctx, offset, e.PageSize)
		if err != nil {
			return wr.Written(), err
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			item, ok := exportItem(msg)
			if !ok {
				slog.Warn("skipping message row with unencodable body", "id", msg.Record.ID)
				continue
			}
			if err := wr.WriteItem(item); err != nil {
				return wr.Written(), err
			}
			if e.Progress != nil {
				e.Progress.Increment()
			}
		}
	}
	if err := wr.Close(); err != nil {
		return wr.Written(), err
	}
	return wr.Written(), nil
}

func exportItem(msg models.ExportMessage) (models.InterchangeItem, bool) {
	rec := msg.Record
	if !xmlEncodable(rec.Body) {
		return models.InterchangeItem{}, false
	}
	address := msg.FromAddress
	if address == "" {
		address = models.AddressSentinel
	}
	transport := TransportPlain
	if translate.IsSecure(rec.Type) {
		transport = TransportSecure
	}
	return models.InterchangeItem{
		Protocol:      0,
		Address:       address,
		ContactName:   msg.FromName,
		Date:          rec.DateReceived,
		ReadableDate:  models.ReadableDate(rec.DateReceived),
		Type:          translate.ToInterchange(rec.Type),
		Subject:       models.AddressSentinel,
		Body:          rec.Body,
		ServiceCenter: models.AddressSentinel,
		Read:          rec.Read,
		Status:        rec.Status,
		Transport:     transport,
		Recipient:     int64(rec.ToRecipient),
	}, true
}

// xmlEncodable reports whether a body survives XML attribute encoding.
// Control characters other than tab, newline and carriage return are not
// representable and would fail the whole document mid-stream.
func xmlEncodable(body string) bool {
	for _, r := range body {
		if r == utf8.RuneError {
			return false
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
