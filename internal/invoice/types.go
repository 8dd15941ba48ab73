// Package invoice holds the extraction-record domain model and the pure
// grouping, partitioning, and pagination pipeline behind the review screens.
package invoice

import "time"

// Status is the triage state of a single extraction record. The empty
// string means the record is still pending review.
type Status string

const (
	StatusPending   Status = ""
	StatusHold      Status = "hold"
	StatusDuplicate Status = "duplicate"
	StatusApproved  Status = "approved"
)

// Valid reports whether s is one of the four triage states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusHold, StatusDuplicate, StatusApproved:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from s to next.
// Pending records may move to any reviewed state, reviewed records may be
// reclassified among the three reviewed states, and nothing ever moves
// back to pending.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next != StatusPending
}

// ExtractionRecord is one page's worth of extracted invoice data. Records
// sharing a FileID belong to the same uploaded file.
type ExtractionRecord struct {
	ID         string           `json:"id"`
	FileID     string           `json:"fileId"`
	PageNumber int              `json:"pageNumber"`
	UserID     string           `json:"userId"`
	OrgID      string           `json:"orgId,omitempty"`
	ClientID   string           `json:"clientId,omitempty"`
	Headers    map[string]any   `json:"invoiceHeaders"`
	LineItems  []map[string]any `json:"invoiceLineItems"`
	Status     Status           `json:"status"`
	FilePath   string           `json:"filePath"`
	FileName   string           `json:"fileName"`
	ClientName string           `json:"clientName"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// StatusCounts is the four-way partition of a grouped file's pages.
type StatusCounts struct {
	Approved  int `json:"approved"`
	Hold      int `json:"hold"`
	Duplicate int `json:"duplicate"`
	Pending   int `json:"pending"`
}

// Total returns the sum across all four buckets.
func (c StatusCounts) Total() int {
	return c.Approved + c.Hold + c.Duplicate + c.Pending
}

func (c StatusCounts) of(s Status) int {
	switch s {
	case StatusApproved:
		return c.Approved
	case StatusHold:
		return c.Hold
	case StatusDuplicate:
		return c.Duplicate
	default:
		return c.Pending
	}
}

// GroupedInvoice aggregates every extraction record of one uploaded file.
// It is derived on every fetch and never persisted.
type GroupedInvoice struct {
	FileID       string             `json:"fileId"`
	FileName     string             `json:"fileName"`
	FilePath     string             `json:"filePath"`
	ClientName   string             `json:"clientName"`
	CreatedAt    time.Time          `json:"createdAt"`
	Pages        []ExtractionRecord `json:"pages"`
	PageCount    int                `json:"pageCount"`
	StatusCounts StatusCounts       `json:"statusCounts"`
}

// Page is one slice of the grouped result set.
type Page struct {
	Data  []GroupedInvoice `json:"data"`
	Total int              `json:"total"`
}
