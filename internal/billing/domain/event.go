package domain

const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// ChangeEvent is the classified form of a record mutation. Exactly one of
// Before/After is nil for created/deleted; both are set for updated. The
// dispatcher builds it once at the boundary so the engine can switch on
// Kind instead of re-checking nils.
type ChangeEvent struct {
	Kind   string
	Before *BillableRecord
	After  *BillableRecord
}

// Classify turns a raw before/after pair into a ChangeEvent. A pair with
// neither side present is a producer bug and fails fast.
func Classify(before, after *BillableRecord) (ChangeEvent, error) {
	switch {
	case before == nil && after == nil:
		return ChangeEvent{}, ErrUnclassifiableEvent
	case before == nil:
		if after.ID == "" {
			return ChangeEvent{}, ErrMissingRecordID
		}
		return ChangeEvent{Kind: ChangeCreated, After: after}, nil
	case after == nil:
		if before.ID == "" {
			return ChangeEvent{}, ErrMissingRecordID
		}
		return ChangeEvent{Kind: ChangeDeleted, Before: before}, nil
	default:
		if before.ID == "" || after.ID == "" {
			return ChangeEvent{}, ErrMissingRecordID
		}
		if before.ID != after.ID {
			return ChangeEvent{}, ErrRecordIDMismatch
		}
		return ChangeEvent{Kind: ChangeUpdated, Before: before, After: after}, nil
	}
}
