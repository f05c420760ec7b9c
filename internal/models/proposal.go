package models

import (
	"strings"
	"time"
)

// ProposalKind is the operation a proposal applies when approved
type ProposalKind string

const (
	ProposalCreate ProposalKind = "create"
	ProposalUpdate ProposalKind = "update"
	ProposalMerge  ProposalKind = "merge"  // fold MergeIDs into TargetID
	ProposalReject ProposalKind = "reject" // recommend discarding the candidate
)

// ProposalStatus is the review state of a proposal
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// FieldChange is one entry of a proposal diff
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// SyncProposal is a staged, unapplied change to canonical posts. Creating or
// storing one never mutates canonical state; only Approve does.
type SyncProposal struct {
	ID         string                 `json:"id"`
	BatchID    string                 `json:"batch_id" badgerhold:"index"`
	Kind       ProposalKind           `json:"kind"`
	Status     ProposalStatus         `json:"status" badgerhold:"index"`
	TargetID   string                 `json:"target_id,omitempty"`  // canonical post for update and merge
	MergeIDs   []string               `json:"merge_ids,omitempty"`  // posts folded into TargetID by a merge
	Supersedes string                 `json:"supersedes,omitempty"` // pending create proposal this one replaces
	Payload    PostFields             `json:"payload"`              // full candidate content
	Changes    map[string]FieldChange `json:"changes,omitempty"`    // diff against TargetID
	SourceIDs  []string               `json:"source_ids"`           // contributing page urls
	Embedding  []float32              `json:"embedding,omitempty"`
	Similarity float64                `json:"similarity,omitempty"` // best match score that led to this decision
	Reason     string                 `json:"reason,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	DecidedAt  *time.Time             `json:"decided_at,omitempty"`
	DeletedAt  *time.Time             `json:"deleted_at,omitempty"` // set on reject
}

// BatchStatus is derived from member proposals, see DeriveBatchStatus
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchApplied  BatchStatus = "applied"
	BatchRejected BatchStatus = "rejected"
	BatchEmpty    BatchStatus = "empty"
)

// SyncBatch groups the proposals produced by one pipeline run
type SyncBatch struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id" badgerhold:"index"`
	JobID       string    `json:"job_id"`
	ProposalIDs []string  `json:"proposal_ids"`
	Cleanup     bool      `json:"cleanup"` // produced by the periodic cleanup pass
	CreatedAt   time.Time `json:"created_at"`
}

// DeriveBatchStatus computes the aggregate status of a batch from its proposals:
// pending while any proposal is pending, rejected when all were rejected,
// applied otherwise.
func DeriveBatchStatus(proposals []SyncProposal) BatchStatus {
	if len(proposals) == 0 {
		return BatchEmpty
	}
	rejected := 0
	for _, p := range proposals {
		switch p.Status {
		case ProposalPending:
			return BatchPending
		case ProposalRejected:
			rejected++
		}
	}
	if rejected == len(proposals) {
		return BatchRejected
	}
	return BatchApplied
}

// DiffFields returns the changes needed to turn current into proposed.
// Empty proposed values never clear an existing field and tags only grow.
func DiffFields(current, proposed PostFields) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for _, name := range AllFields {
		oldValue := current.Field(name)
		newValue := proposed.Field(name)
		if name == FieldTags {
			merged := UnionStrings(current.Tags, proposed.Tags)
			if len(merged) == len(UnionStrings(current.Tags)) {
				continue
			}
			newValue = strings.Join(merged, ", ")
		}
		if newValue == "" || newValue == oldValue {
			continue
		}
		changes[name] = FieldChange{Old: oldValue, New: newValue}
	}
	return changes
}

// ApplyChanges applies a diff to fields
func ApplyChanges(fields *PostFields, changes map[string]FieldChange) {
	for name, change := range changes {
		fields.SetField(name, change.New)
	}
}
