package models

// DeliveryStatus tracks a chat message through send and receipt.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// KnownStatuses lists every recognized delivery status.
var KnownStatuses = []DeliveryStatus{
	StatusSending,
	StatusPending,
	StatusSent,
	StatusDelivered,
	StatusRead,
	StatusFailed,
}

// IsKnown reports whether s is a recognized status.
func (s DeliveryStatus) IsKnown() bool {
	for _, known := range KnownStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// InFlight reports whether the record is still awaiting confirmation.
func (s DeliveryStatus) InFlight() bool {
	return s == StatusSending || s == StatusPending
}

// rank orders confirmed statuses so receipts never move backwards.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Advance returns the further of s and next along sent → delivered → read.
// Non-receipt statuses always take next.
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if s.rank() > 0 && next.rank() > 0 && next.rank() < s.rank() {
		return s
	}
	return next
}
