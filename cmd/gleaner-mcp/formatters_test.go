package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/gleaner/internal/models"
)

func TestFormatProposals(t *testing.T) {
	out := formatProposals(models.ProposalPending, []models.SyncProposal{{
		ID:         "prop_1",
		BatchID:    "batch_job_1",
		Kind:       models.ProposalUpdate,
		TargetID:   "post_9",
		Similarity: 0.912,
		Payload:    models.PostFields{Title: "Food Bank", ShortSummary: "Free groceries"},
		Changes: map[string]models.FieldChange{
			"schedule": {Old: "Mondays", New: "Tuesdays"},
			"contact":  {Old: "", New: "555-0100"},
		},
	}})

	assert.Contains(t, out, "## pending proposals (1)")
	assert.Contains(t, out, "### update: Food Bank")
	assert.Contains(t, out, "**Target:** post_9")
	assert.Contains(t, out, "**Similarity:** 0.912")
	assert.Less(t, strings.Index(out, "**contact:**"), strings.Index(out, "**schedule:**"))
}

func TestFormatProposals_Empty(t *testing.T) {
	assert.Contains(t, formatProposals(models.ProposalApproved, nil), "None.")
}

func TestFormatJob(t *testing.T) {
	out := formatJob(&models.JobStatusView{
		ID:     "job_1",
		Kind:   models.JobKindSyncPosts,
		Status: models.JobStatusFailed,
		Error:  "backend status 503: unavailable",
		Result: json.RawMessage(`{"creates":1}`),
	})
	assert.Contains(t, out, "# Job job_1")
	assert.Contains(t, out, "**Error:** backend status 503: unavailable")
	assert.Contains(t, out, `{"creates":1}`)
	assert.NotContains(t, out, "Next run")
}
