// Package translate maps between interchange message type codes and the
// live store's type bitmasks. The interchange side only distinguishes
// received, sent and sent-failed; everything else collapses on export.
package translate

// Interchange type codes.
const (
	CodeInbox      = 1
	CodeSent       = 2
	CodeDraft      = 3
	CodeOutbox     = 4
	CodeSentFailed = 5
	CodeQueued     = 6
)

// Live store base message types. The low bits of a message type carry the
// base state; the remaining bits are feature flags.
const (
	BaseTypeMask int64 = 0x1F

	BaseInboxType      int64 = 20
	BaseOutboxType     int64 = 21
	BaseSendingType    int64 = 22
	BaseSentType       int64 = 23
	BaseSentFailedType int64 = 24
	BasePendingSecure  int64 = 25
	BasePendingFallbk  int64 = 26
	BaseDraftType      int64 = 27

	SecureMessageBit int64 = 0x800000
	PushMessageBit   int64 = 0x40000
)

var outgoingBaseTypes = []int64{
	BaseOutboxType,
	BaseSendingType,
	BaseSentType,
	BasePendingSecure,
	BasePendingFallbk,
}

// ToInterchange converts a live store type bitmask to an interchange code.
// Anything that is not cleanly inbox, outgoing or failed becomes inbox.
func ToInterchange(messageType int64) int {
	switch {
	case IsInbox(messageType):
		return CodeInbox
	case IsOutgoing(messageType):
		return CodeSent
	case IsFailed(messageType):
		return CodeSentFailed
	default:
		return CodeInbox
	}
}

// FromInterchange converts an interchange code to a live store base type.
// Unknown codes become inbox.
func FromInterchange(code int) int64 {
	switch code {
	case CodeInbox:
		return BaseInboxType
	case CodeSent:
		return BaseSentType
	case CodeDraft:
		return BaseDraftType
	case CodeOutbox:
		return BaseOutboxType
	case CodeSentFailed:
		return BaseSentFailedType
	case CodeQueued:
		return BaseOutboxType
	default:
		return BaseInboxType
	}
}

// Importable reports whether an interchange code translates to a type the
// importers accept. Drafts and queued/outbox rows are skipped.
func Importable(code int) bool {
	switch FromInterchange(code) {
	case BaseInboxType, BaseSentType, BaseSentFailedType:
		return true
	default:
		return false
	}
}

func IsInbox(messageType int64) bool {
	return messageType&BaseTypeMask == BaseInboxType
}

func IsOutgoing(messageType int64) bool {
	base := messageType & BaseTypeMask
	for _, t := range outgoingBaseTypes {
		if base == t {
			return true
		}
	}
	return false
}

func IsFailed(messageType int64) bool {
	return messageType&BaseTypeMask == BaseSentFailedType
}

func IsPending(messageType int64) bool {
	base := messageType & BaseTypeMask
	return base == BaseOutboxType || base == BaseSendingType ||
		base == BasePendingSecure || base == BasePendingFallbk
}

func IsSecure(messageType int64) bool {
	return messageType&SecureMessageBit != 0
}
