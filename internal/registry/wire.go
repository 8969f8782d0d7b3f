package registry

import (
	"time"

	"github.com/idregistry/idregistry/internal/account"
)

// SubmitRequest is the body of a submission over HTTP.
type SubmitRequest struct {
	IdentityHash string `json:"identity_hash"`
}

// RecordResponse is the HTTP form of a Record. Timestamp is omitted for
// accounts that never submitted.
type RecordResponse struct {
	Address      account.Address  `json:"address"`
	IdentityHash string           `json:"identity_hash"`
	Timestamp    *time.Time       `json:"timestamp,omitempty"`
	Verified     bool             `json:"verified"`
	Status       Status           `json:"status"`
	SubmittedBy  *account.Address `json:"submitted_by,omitempty"`
}

// NewRecordResponse renders rec for subject.
func NewRecordResponse(subject account.Address, rec Record) RecordResponse {
	resp := RecordResponse{
		Address:      subject,
		IdentityHash: rec.IdentityHash,
		Verified:     rec.Verified,
		Status:       rec.Status(),
	}
	if !rec.Timestamp.IsZero() {
		ts := rec.Timestamp
		resp.Timestamp = &ts
	}
	if !rec.SubmittedBy.IsZero() {
		by := rec.SubmittedBy
		resp.SubmittedBy = &by
	}
	return resp
}

// Record converts the response back into a Record.
func (r RecordResponse) Record() Record {
	rec := Record{IdentityHash: r.IdentityHash, Verified: r.Verified}
	if r.Timestamp != nil {
		rec.Timestamp = r.Timestamp.UTC()
	}
	if r.SubmittedBy != nil {
		rec.SubmittedBy = *r.SubmittedBy
	}
	return rec
}

// CheckResponse answers the fast verification check.
type CheckResponse struct {
	Address  account.Address `json:"address"`
	Verified bool            `json:"verified"`
}

// StatsResponse summarises the registry.
type StatsResponse struct {
	Owner         account.Address `json:"owner"`
	TotalVerified int             `json:"total_verified"`
	Accounts      int             `json:"accounts"`
	LastSeq       uint64          `json:"last_seq"`
}

// AccountsResponse lists enumerated accounts in submission order.
type AccountsResponse struct {
	Accounts []account.Address `json:"accounts"`
}

// EventsResponse carries a page of the event log.
type EventsResponse struct {
	Events []Event `json:"events"`
}
