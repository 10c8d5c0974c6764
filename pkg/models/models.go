package models

import (
	"strings"
	"time"
)

// RecipientID is the stable identity of an address in the live store.
type RecipientID int64

// ThreadID identifies one conversation in the live store.
type ThreadID int64

// Delivery status values carried by interchange items.
const (
	StatusNone     int64 = -1
	StatusComplete int64 = 0
	StatusPending  int64 = 0x20
	StatusFailed   int64 = 0x40
)

// AddressSentinel marks an absent address in the interchange document.
const AddressSentinel = "null"

type Recipient struct {
	ID          RecipientID `json:"id"`
	Address     string      `json:"address"`
	DisplayName string      `json:"display_name"`
	Self        bool        `json:"self"`
}

type GroupRecord struct {
	RecipientID RecipientID `json:"recipient_id"`
	Title       string      `json:"title"`
}

// MessageRecord is one row of the live message table.
type MessageRecord struct {
	ID            int64       `json:"id"`
	FromRecipient RecipientID `json:"from_recipient"`
	ToRecipient   RecipientID `json:"to_recipient"`
	ThreadID      ThreadID    `json:"thread_id"`
	DateSent      int64       `json:"date_sent"`
	DateReceived  int64       `json:"date_received"`
	Read          int         `json:"read"`
	Status        int64       `json:"status"`
	Type          int64       `json:"type"`
	Body          string      `json:"body"`
}

// ExportMessage is a message row joined with the recipient fields the
// plaintext exporter needs.
type ExportMessage struct {
	Record      MessageRecord
	FromAddress string
	FromName    string
}

// Attachment describes one media payload before it is handed to the
// attachment store.
type Attachment struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	VoiceNote   bool   `json:"voice_note"`
	Caption     string `json:"caption"`
}

// InterchangeItem is one message record of the plaintext interchange
// document.
type InterchangeItem struct {
	Protocol      int
	Address       string
	ContactName   string
	Date          int64
	ReadableDate  string
	Type          int
	Subject       string
	Body          string
	ServiceCenter string
	Read          int
	Status        int64
	Transport     string
	Recipient     int64
}

// ForeignMessageItem is one row extracted from the foreign message store.
// A nil Body distinguishes no-content system rows from genuinely empty text.
type ForeignMessageItem struct {
	Address      string
	Group        bool
	GroupName    string
	Date         int64
	FromMe       bool
	Body         *string
	MediaType    int
	ForeignRowID int64
	MediaCaption string
}

// IsGroup reports whether the row came from a multi-party conversation.
func (i *ForeignMessageItem) IsGroup() bool {
	return i.Group
}

// ImportPolicy is the immutable flag set for one foreign import call.
type ImportPolicy struct {
	IncludeGroups   bool
	AvoidDuplicates bool
	IncludeMedia    bool
}

// ReadableDate renders an epoch-millisecond timestamp the way interchange
// documents expect it.
func ReadableDate(epochMillis int64) string {
	return time.UnixMilli(epochMillis).Format("Mon, 02 Jan 2006 15:04:05 MST")
}

// NormalizeAddress trims an address and maps the sentinel to empty.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == AddressSentinel {
		return ""
	}
	return address
}
