package models

import "time"

// DisputeReason is the fixed reason taxonomy for contested results.
type DisputeReason string

const (
	ReasonScoreMismatch  DisputeReason = "score_mismatch"
	ReasonNoShow         DisputeReason = "no_show"
	ReasonTechnicalIssue DisputeReason = "technical_issue"
	ReasonOther          DisputeReason = "other"
)

func (r DisputeReason) Valid() bool {
	switch r {
	case ReasonScoreMismatch, ReasonNoShow, ReasonTechnicalIssue, ReasonOther:
		return true
	}
	return false
}

type DisputeState string

const (
	DisputeOpen             DisputeState = "open"
	DisputeAwaitingEvidence DisputeState = "awaiting_evidence"
	DisputeEscalated        DisputeState = "escalated"
	DisputeResolved         DisputeState = "resolved"
)

// ArbiterAction is a ruling (or procedural step) an arbiter can take on a dispute.
type ArbiterAction string

const (
	ActionAcceptA             ArbiterAction = "accept_a"
	ActionAcceptB             ArbiterAction = "accept_b"
	ActionOverride            ArbiterAction = "override"
	ActionRequestMoreEvidence ArbiterAction = "request_more_evidence"
	ActionEscalate            ArbiterAction = "escalate"
)

// Resolution is the append-only ruling record. Original submissions are never
// deleted; resolving only attaches this record to the dispute.
type Resolution struct {
	Action     ArbiterAction `json:"action" db:"action"`
	Score      *Score        `json:"score,omitempty" db:"-"`
	WinnerID   *int          `json:"winner_id,omitempty" db:"winner_id"`
	Note       string        `json:"note,omitempty" db:"note"`
	ResolvedBy int           `json:"resolved_by" db:"resolved_by"`
	ResolvedAt time.Time     `json:"resolved_at" db:"resolved_at"`
}

// Dispute records a contested match result. The resolution window is fixed
// once the dispute opens; only an explicit request for more evidence may
// extend it, and only once.
type Dispute struct {
	ID             string        `json:"id" db:"id"`
	MatchID        int           `json:"match_id" db:"match_id"`
	Reason         DisputeReason `json:"reason" db:"reason"`
	State          DisputeState  `json:"state" db:"state"`
	FiledBy        *int          `json:"filed_by,omitempty" db:"filed_by"`
	SubmissionAID  *string       `json:"submission_a_id,omitempty" db:"submission_a_id"`
	SubmissionBID  *string       `json:"submission_b_id,omitempty" db:"submission_b_id"`
	EvidenceKeys   []string      `json:"evidence_keys,omitempty" db:"evidence_keys"`
	WindowEndsAt   time.Time     `json:"window_ends_at" db:"window_ends_at"`
	WindowExtended bool          `json:"window_extended" db:"window_extended"`
	Resolution     *Resolution   `json:"resolution,omitempty" db:"-"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// HasBothSubmissions reports whether the dispute carries two conflicting
// submissions. Such disputes are never auto-resolved by the window timeout.
func (d *Dispute) HasBothSubmissions() bool {
	return d.SubmissionAID != nil && d.SubmissionBID != nil
}
