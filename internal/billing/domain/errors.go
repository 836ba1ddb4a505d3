package domain

import "errors"

var (
	ErrUnclassifiableEvent = errors.New("unclassifiable_change_event")
	ErrMissingRecordID     = errors.New("missing_record_id")
	ErrRecordIDMismatch    = errors.New("record_id_mismatch")

	ErrAggregateNotFound  = errors.New("aggregate_not_found")
	ErrDuplicateAggregate = errors.New("duplicate_aggregate")
	ErrVersionConflict    = errors.New("aggregate_version_conflict")
)
