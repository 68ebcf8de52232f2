package models

import "time"

// QuotaRecord is the usage of one source during one calendar month.
// Limit is nil for unlimited sources. LimitPinned marks a limit set by an
// operator, which outranks the configured limit for that period.
type QuotaRecord struct {
	SourceID    string    `json:"source_id"`
	PeriodStart time.Time `json:"period_start"`
	UsedCount   int       `json:"used_count"`
	Limit       *int      `json:"limit"`
	LimitPinned bool      `json:"limit_pinned,omitempty"`
}

// ResetDate is the first instant of the month after PeriodStart.
func (r QuotaRecord) ResetDate() time.Time {
	return r.PeriodStart.AddDate(0, 1, 0)
}

// QuotaStatus is the read model returned to callers.
type QuotaStatus struct {
	SourceID    string    `json:"source_id"`
	Used        int       `json:"used"`
	Limit       *int      `json:"limit"`
	Remaining   *int      `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	ResetDate   time.Time `json:"reset_date"`
}
