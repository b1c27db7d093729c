package model

// DeliveryState is the monotonic lattice §3/§8 describes for a message's
// delivery state: pending -> delivered -> confirmed, with pending or
// delivered able to fall to failed, and no other transitions.
type DeliveryState uint8

const (
	DeliveryPending DeliveryState = iota
	DeliveryDelivered
	DeliveryConfirmed
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AllowedTransition reports whether moving from 'from' to 'to' is legal
// under the monotonic lattice. Re-asserting the same state is a no-op,
// not an error, so a repeated transition to the current state is always allowed.
func AllowedTransition(from, to DeliveryState) bool {
	if from == to {
		return true
	}
	switch from {
	case DeliveryPending:
		return to == DeliveryDelivered || to == DeliveryFailed
	case DeliveryDelivered:
		return to == DeliveryConfirmed || to == DeliveryFailed
	default:
		// Confirmed and Failed are terminal.
		return false
	}
}

// DecryptedBy records how a message's plaintext was obtained.
type DecryptedBy uint8

const (
	DecryptedByNone DecryptedBy = iota
	DecryptedByNode
	DecryptedByServer
)

// Message is the append-only record identified by (source, packet-id)
// described in §3.
type Message struct {
	SourceNode uint32
	PacketID   uint32

	Text        string
	Channel     int32 // -1 = direct message; see ServerDecryptedChannel for server-decrypted rows
	DestNode    uint32
	HopStart    uint32
	HopLimit    uint32
	ReplyTo     uint32
	HasReplyTo  bool
	Emoji       bool
	WantAck     bool

	DeliveryState DeliveryState
	RequestID     uint32
	DecryptedBy   DecryptedBy

	RxTime int64
	RxSNR  float32
	RxRSSI int32

	CreatedAt int64
}

// Key uniquely identifies a message for deduplication (§3: append-only,
// deduplicated by (source, packet-id)).
func (m *Message) Key() MessageKey {
	return MessageKey{Source: m.SourceNode, PacketID: m.PacketID}
}

// MessageKey is the dedup/lookup key for a Message.
type MessageKey struct {
	Source   uint32
	PacketID uint32
}
