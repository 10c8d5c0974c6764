// Package interchange reads and writes the plaintext message document: a
// sequential XML file of message items, sized up front with the total count.
package interchange

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mercury-chat/backup-engine/pkg/models"
)

var ErrXMLParse = errors.New("interchange: malformed document")

const documentHeader = xml.Header

type xmlItem struct {
	XMLName       xml.Name `xml:"sms"`
	Protocol      int      `xml:"protocol,attr"`
	Address       string   `xml:"address,attr"`
	ContactName   string   `xml:"contact_name,attr"`
	Date          int64    `xml:"date,attr"`
	ReadableDate  string   `xml:"readable_date,attr"`
	Type          int      `xml:"type,attr"`
	Subject       string   `xml:"subject,attr"`
	Body          string   `xml:"body,attr"`
	ServiceCenter string   `xml:"service_center,attr"`
	Read          int      `xml:"read,attr"`
	Status        int64    `xml:"status,attr"`
	Transport     string   `xml:"transport,attr"`
	Recipient     int64    `xml:"recipient,attr"`
}

func toXMLItem(item models.InterchangeItem) xmlItem {
	return xmlItem{
		Protocol:      item.Protocol,
		Address:       item.Address,
		ContactName:   item.ContactName,
		Date:          item.Date,
		ReadableDate:  item.ReadableDate,
		Type:          item.Type,
		Subject:       item.Subject,
		Body:          item.Body,
		ServiceCenter: item.ServiceCenter,
		Read:          item.Read,
		Status:        item.Status,
		Transport:     item.Transport,
		Recipient:     item.Recipient,
	}
}

func fromXMLItem(raw xmlItem) models.InterchangeItem {
	return models.InterchangeItem{
		Protocol:      raw.Protocol,
		Address:       raw.Address,
		ContactName:   raw.ContactName,
		Date:          raw.Date,
		ReadableDate:  raw.ReadableDate,
		Type:          raw.Type,
		Subject:       raw.Subject,
		Body:          raw.Body,
		ServiceCenter: raw.ServiceCenter,
		Read:          raw.Read,
		Status:        raw.Status,
		Transport:     raw.Transport,
		Recipient:     raw.Recipient,
	}
}

// Writer streams a document with a known total item count.
type Writer struct {
	w       io.Writer
	enc     *xml.Encoder
	written int
	closed  bool
}

func NewWriter(w io.Writer, count int) (*Writer, error) {
	if _, err := io.WriteString(w, documentHeader); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(w, "<smses count=%q>\n", fmt.Sprint(count)); err != nil {
		return nil, err
	}
	return &Writer{w: w, enc: xml.NewEncoder(w)}, nil
}

func (wr *Writer) WriteItem(item models.InterchangeItem) error {
	if _, err := io.WriteString(wr.w, "  "); err != nil {
		return err
	}
	if err := wr.enc.Encode(toXMLItem(item)); err != nil {
		return err
	}
	if err := wr.enc.Flush(); err != nil {
		return err
	}
	if _, err := io.WriteString(wr.w, "\n"); err != nil {
		return err
	}
	wr.written++
	return nil
}

// Written reports the number of items written so far.
func (wr *Writer) Written() int { return wr.written }

func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true
	_, err := io.WriteString(wr.w, "</smses>\n")
	return err
}

// Reader streams a document item-by-item.
type Reader struct {
	dec   *xml.Decoder
	count int
}

func NewReader(r io.Reader) (*Reader, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrXMLParse, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "smses" {
			return nil, fmt.Errorf("%w: unexpected root %q", ErrXMLParse, start.Name.Local)
		}
		rd := &Reader{dec: dec}
		for _, attr := range start.Attr {
			if attr.Name.Local == "count" {
				fmt.Sscan(attr.Value, &rd.count)
			}
		}
		return rd, nil
	}
}

// Count returns the declared item count from the document root. Informational
// only, the stream is authoritative.
func (rd *Reader) Count() int { return rd.count }

// Next returns the next item, or io.EOF after the closing root tag.
func (rd *Reader) Next() (models.InterchangeItem, error) {
	for {
		tok, err := rd.dec.Token()
		if err == io.EOF {
			return models.InterchangeItem{}, io.EOF
		}
		if err != nil {
			return models.InterchangeItem{}, fmt.Errorf("%w: %v", ErrXMLParse, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "sms" {
				return models.InterchangeItem{}, fmt.Errorf("%w: unexpected element %q", ErrXMLParse, t.Name.Local)
			}
			var raw xmlItem
			if err := rd.dec.DecodeElement(&raw, &t); err != nil {
				return models.InterchangeItem{}, fmt.Errorf("%w: %v", ErrXMLParse, err)
			}
			return fromXMLItem(raw), nil
		case xml.EndElement:
			if t.Name.Local == "smses" {
				return models.InterchangeItem{}, io.EOF
			}
		}
	}
}
