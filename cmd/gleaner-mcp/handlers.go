package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/gleaner/internal/app"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/models"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func handleRunDiscovery(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queries := request.GetStringSlice("queries", nil)

		var (
			result *models.DiscoveryResult
			err    error
		)
		if len(queries) > 0 {
			result, err = a.DiscoveryService.Discover(ctx, queries)
		} else {
			result, err = a.DiscoveryService.RunDiscovery(ctx)
		}
		if err != nil {
			a.Logger.Error().Err(err).Msg("Discovery failed")
			return textResult(fmt.Sprintf("Discovery error: %v", err)), nil
		}
		return textResult(formatDiscovery(result)), nil
	}
}

func handleCrawlWebsite(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sources := a.StorageManager.SourceStorage()
		rawURL := strings.TrimSpace(request.GetString("url", ""))
		sourceID := strings.TrimSpace(request.GetString("source_id", ""))

		var source *models.Source
		switch {
		case sourceID != "":
			s, err := sources.GetSource(ctx, sourceID)
			if err != nil {
				return textResult(fmt.Sprintf("Source not found: %v", err)), nil
			}
			source = s
		case rawURL != "":
			candidate, err := models.NewSourceFromURL(common.NewSourceID(), rawURL, "mcp")
			if err != nil {
				return textResult(fmt.Sprintf("Error: %v", err)), nil
			}
			s, _, err := sources.CreateIfAbsent(ctx, candidate)
			if err != nil {
				a.Logger.Error().Err(err).Str("url", rawURL).Msg("Failed to store source")
				return textResult(fmt.Sprintf("Error: %v", err)), nil
			}
			source = s
		default:
			return textResult("Error: url or source_id parameter is required"), nil
		}

		job, err := a.Orchestrator.Enqueue(ctx, models.JobSpec{
			Kind:     models.JobKindCrawlWebsite,
			SourceID: source.ID,
			Payload:  models.CrawlPayload{SourceID: source.ID},
		})
		if err != nil {
			a.Logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to queue crawl")
			return textResult(fmt.Sprintf("Error: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Queued crawl of %s (source %s) as job %s", source.URL, source.ID, job.ID)), nil
	}
}

func handleExtractPosts(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceID, err := request.RequireString("source_id")
		if err != nil || sourceID == "" {
			return textResult("Error: source_id parameter is required"), nil
		}

		spec := models.JobSpec{
			Kind:     models.JobKindRegeneratePosts,
			SourceID: sourceID,
			Payload:  models.RegeneratePayload{SourceID: sourceID},
		}
		if urls := request.GetStringSlice("page_urls", nil); len(urls) > 0 {
			spec = models.JobSpec{
				Kind:     models.JobKindExtractPosts,
				SourceID: sourceID,
				Payload:  models.ExtractPayload{SourceID: sourceID, PageURLs: urls},
			}
		}

		job, err := a.Orchestrator.Enqueue(ctx, spec)
		if err != nil {
			return textResult(fmt.Sprintf("Error: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Queued %s for source %s as job %s", spec.Kind, sourceID, job.ID)), nil
	}
}

func handleGetJob(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return textResult("Error: job_id parameter is required"), nil
		}
		view, err := a.Orchestrator.GetJob(ctx, jobID)
		if err != nil {
			return textResult(fmt.Sprintf("Job not found: %v", err)), nil
		}
		return textResult(formatJob(view)), nil
	}
}

func handleListProposals(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := models.ProposalStatus(request.GetString("status", string(models.ProposalPending)))
		proposals, err := a.DedupService.ListProposals(ctx, status)
		if err != nil {
			a.Logger.Error().Err(err).Msg("List proposals failed")
			return textResult(fmt.Sprintf("Error: %v", err)), nil
		}
		return textResult(formatProposals(status, proposals)), nil
	}
}

func handleApproveProposal(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("proposal_id")
		if err != nil || id == "" {
			return textResult("Error: proposal_id parameter is required"), nil
		}
		postID, err := a.DedupService.Approve(ctx, id)
		if err != nil {
			return textResult(fmt.Sprintf("Approve failed: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Approved %s; canonical post %s", id, postID)), nil
	}
}

func handleRejectProposal(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("proposal_id")
		if err != nil || id == "" {
			return textResult("Error: proposal_id parameter is required"), nil
		}
		if err := a.DedupService.Reject(ctx, id, request.GetString("reason", "")); err != nil {
			return textResult(fmt.Sprintf("Reject failed: %v", err)), nil
		}
		return textResult(fmt.Sprintf("Rejected %s", id)), nil
	}
}
