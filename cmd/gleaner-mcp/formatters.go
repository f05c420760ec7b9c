package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/gleaner/internal/models"
)

// formatDiscovery formats a discovery run as markdown
func formatDiscovery(result *models.DiscoveryResult) string {
	var sb strings.Builder
	sb.WriteString("## Discovery\n\n")
	sb.WriteString(fmt.Sprintf("**Queries executed:** %d\n", result.QueriesExecuted))
	sb.WriteString(fmt.Sprintf("**Sources created:** %d\n", result.WebsitesCreated))
	for _, id := range result.SourceIDs {
		sb.WriteString(fmt.Sprintf("- %s\n", id))
	}
	return sb.String()
}

// formatJob formats a job status view as markdown
func formatJob(view *models.JobStatusView) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Job %s\n\n", view.ID))
	sb.WriteString(fmt.Sprintf("**Kind:** %s\n", view.Kind))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", view.Status))
	sb.WriteString(fmt.Sprintf("**Retries:** %d\n", view.RetryCount))
	if view.Status == models.JobStatusPending {
		sb.WriteString(fmt.Sprintf("**Next run:** %s\n", view.NextRunAt.Format(time.RFC3339)))
	}
	if view.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", view.Error))
	}
	if len(view.Result) > 0 {
		sb.WriteString("\n```json\n")
		sb.Write(view.Result)
		sb.WriteString("\n```\n")
	}
	return sb.String()
}

// formatProposals formats proposals as markdown, one section per proposal
func formatProposals(status models.ProposalStatus, proposals []models.SyncProposal) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s proposals (%d)\n\n", status, len(proposals)))
	if len(proposals) == 0 {
		sb.WriteString("None.\n")
		return sb.String()
	}

	for _, p := range proposals {
		sb.WriteString(fmt.Sprintf("### %s: %s\n", p.Kind, p.Payload.Title))
		sb.WriteString(fmt.Sprintf("**ID:** %s\n", p.ID))
		sb.WriteString(fmt.Sprintf("**Batch:** %s\n", p.BatchID))
		if p.TargetID != "" {
			sb.WriteString(fmt.Sprintf("**Target:** %s\n", p.TargetID))
		}
		if len(p.MergeIDs) > 0 {
			sb.WriteString(fmt.Sprintf("**Merges:** %s\n", strings.Join(p.MergeIDs, ", ")))
		}
		if p.Similarity > 0 {
			sb.WriteString(fmt.Sprintf("**Similarity:** %.3f\n", p.Similarity))
		}
		if p.Payload.ShortSummary != "" {
			sb.WriteString(fmt.Sprintf("\n%s\n", p.Payload.ShortSummary))
		}

		if len(p.Changes) > 0 {
			fields := make([]string, 0, len(p.Changes))
			for name := range p.Changes {
				fields = append(fields, name)
			}
			sort.Strings(fields)
			sb.WriteString("\n#### Changes:\n")
			for _, name := range fields {
				change := p.Changes[name]
				sb.WriteString(fmt.Sprintf("- **%s:** %q -> %q\n", name, change.Old, change.New))
			}
		}
		sb.WriteString("\n---\n\n")
	}
	return sb.String()
}
