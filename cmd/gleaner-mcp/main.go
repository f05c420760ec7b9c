package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/gleaner/internal/app"
	"github.com/ternarybob/gleaner/internal/common"
)

func main() {
	configPath := os.Getenv("GLEANER_CONFIG")
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	} else if _, err := os.Stat("gleaner.toml"); err == nil {
		paths = append(paths, "gleaner.toml")
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol, so logs go to the file only
	config.Logging.Output = []string{"file"}
	logger := common.SetupLogger(config)

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start workers")
	}

	mcpServer := server.NewMCPServer(
		"gleaner",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	// Pipeline tools
	mcpServer.AddTool(createRunDiscoveryTool(), handleRunDiscovery(application))
	mcpServer.AddTool(createCrawlWebsiteTool(), handleCrawlWebsite(application))
	mcpServer.AddTool(createExtractPostsTool(), handleExtractPosts(application))
	mcpServer.AddTool(createGetJobTool(), handleGetJob(application))

	// Review tools
	mcpServer.AddTool(createListProposalsTool(), handleListProposals(application))
	mcpServer.AddTool(createApproveProposalTool(), handleApproveProposal(application))
	mcpServer.AddTool(createRejectProposalTool(), handleRejectProposal(application))

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
