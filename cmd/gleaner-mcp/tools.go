package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func createRunDiscoveryTool() mcp.Tool {
	return mcp.NewTool("run_discovery",
		mcp.WithDescription("Search for community service websites and queue a crawl for every new one"),
		mcp.WithArray("queries",
			mcp.WithStringItems(),
			mcp.Description("Search queries (default: the configured discovery queries)"),
		),
	)
}

func createCrawlWebsiteTool() mcp.Tool {
	return mcp.NewTool("crawl_website",
		mcp.WithDescription("Queue a crawl of a website. Extraction and sync follow automatically."),
		mcp.WithString("url",
			mcp.Description("Website root URL; a source is created when it is not yet known"),
		),
		mcp.WithString("source_id",
			mcp.Description("Existing source ID (format: src_{uuid})"),
		),
	)
}

func createExtractPostsTool() mcp.Tool {
	return mcp.NewTool("extract_posts",
		mcp.WithDescription("Extract posts from cached pages without crawling. Sync follows automatically."),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Source ID (format: src_{uuid})"),
		),
		mcp.WithArray("page_urls",
			mcp.WithStringItems(),
			mcp.Description("Cached page URLs (default: every cached page of the source)"),
		),
	)
}

func createGetJobTool() mcp.Tool {
	return mcp.NewTool("get_job",
		mcp.WithDescription("Get the status, error and result of a pipeline job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID (format: job_{uuid})"),
		),
	)
}

func createListProposalsTool() mcp.Tool {
	return mcp.NewTool("list_proposals",
		mcp.WithDescription("List sync proposals awaiting review"),
		mcp.WithString("status",
			mcp.Description("Filter: pending (default), approved, rejected"),
		),
	)
}

func createApproveProposalTool() mcp.Tool {
	return mcp.NewTool("approve_proposal",
		mcp.WithDescription("Apply a pending proposal to the canonical posts"),
		mcp.WithString("proposal_id",
			mcp.Required(),
			mcp.Description("Proposal ID (format: prop_{uuid})"),
		),
	)
}

func createRejectProposalTool() mcp.Tool {
	return mcp.NewTool("reject_proposal",
		mcp.WithDescription("Reject a pending proposal"),
		mcp.WithString("proposal_id",
			mcp.Required(),
			mcp.Description("Proposal ID (format: prop_{uuid})"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the proposal was rejected"),
		),
	)
}
