package policy

import (
	"time"

	"github.com/google/uuid"
)

// Subsidy is the ledger-side view of the funded budget a policy draws against.
type Subsidy struct {
	UUID               uuid.UUID
	Title              string
	ActiveDatetime     time.Time
	ExpirationDatetime time.Time
	CurrentBalance     int64
}

// IsSubsidyActive reports whether now falls within the subsidy's active window, inclusive.
func IsSubsidyActive(s *Subsidy, now time.Time) bool {
	if s == nil {
		return false
	}
	if !s.ActiveDatetime.IsZero() && now.Before(s.ActiveDatetime) {
		return false
	}
	if !s.ExpirationDatetime.IsZero() && now.After(s.ExpirationDatetime) {
		return false
	}
	return true
}
