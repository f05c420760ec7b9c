package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/gleaner/internal/app"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/models"
)

// withApp runs fn against a freshly built application, cancelled on interrupt
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, application)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// drain runs queued jobs in this process until none is ready
func drain(ctx context.Context, a *app.App) error {
	ran, err := a.Orchestrator.Drain(ctx, "cli")
	if err != nil {
		return err
	}
	logger.Info().Int("jobs", ran).Msg("Queued jobs processed")
	return nil
}

func discoverCmd() *cobra.Command {
	var run bool
	cmd := &cobra.Command{
		Use:   "discover [query...]",
		Short: "Search for new sources and queue a crawl for each",
		Long:  `Runs the given queries, or the configured discovery queries when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				var (
					result *models.DiscoveryResult
					err    error
				)
				if len(args) > 0 {
					result, err = a.DiscoveryService.Discover(ctx, args)
				} else {
					result, err = a.DiscoveryService.RunDiscovery(ctx)
				}
				if err != nil {
					return err
				}
				if err := printJSON(result); err != nil {
					return err
				}
				if run {
					return drain(ctx, a)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&run, "run", false, "Process the queued crawls before exiting")
	return cmd
}

func crawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <url|source-id>",
		Short: "Crawl a website and run extraction and sync on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				sources := a.StorageManager.SourceStorage()

				target := strings.TrimSpace(args[0])
				var source *models.Source
				if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
					candidate, err := models.NewSourceFromURL(common.NewSourceID(), target, "cli")
					if err != nil {
						return err
					}
					source, _, err = sources.CreateIfAbsent(ctx, candidate)
					if err != nil {
						return err
					}
				} else {
					var err error
					source, err = sources.GetSource(ctx, target)
					if err != nil {
						return err
					}
				}

				job, err := a.Orchestrator.Enqueue(ctx, models.JobSpec{
					Kind:     models.JobKindCrawlWebsite,
					SourceID: source.ID,
					Payload:  models.CrawlPayload{SourceID: source.ID},
				})
				if err != nil {
					return err
				}
				if err := drain(ctx, a); err != nil {
					return err
				}

				view, err := a.Orchestrator.GetJob(ctx, job.ID)
				if err != nil {
					return err
				}
				return printJSON(view)
			})
		},
	}
}

// extractSpec queues ExtractPosts for the given pages, or RegeneratePosts
// over every cached page of the source when none are given
func extractSpec(sourceID string, pageURLs []string) models.JobSpec {
	if len(pageURLs) == 0 {
		return models.JobSpec{
			Kind:     models.JobKindRegeneratePosts,
			SourceID: sourceID,
			Payload:  models.RegeneratePayload{SourceID: sourceID},
		}
	}
	return models.JobSpec{
		Kind:     models.JobKindExtractPosts,
		SourceID: sourceID,
		Payload:  models.ExtractPayload{SourceID: sourceID, PageURLs: pageURLs},
	}
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <source-id> [page-url...]",
		Short: "Extract posts from cached pages and sync them",
		Long:  `Extracts from the given cached pages, or from every cached page of the source when none are given.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				job, err := a.Orchestrator.Enqueue(ctx, extractSpec(args[0], args[1:]))
				if err != nil {
					return err
				}
				if err := drain(ctx, a); err != nil {
					return err
				}
				view, err := a.Orchestrator.GetJob(ctx, job.ID)
				if err != nil {
					return err
				}
				return printJSON(view)
			})
		},
	}
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				view, err := a.Orchestrator.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(view)
			})
		},
	}
}

func jobsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs [status]",
		Short: "List jobs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status models.JobStatus
			if len(args) == 1 {
				status = models.JobStatus(args[0])
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				jobs, err := a.Orchestrator.ListJobs(ctx, status, limit)
				if err != nil {
					return err
				}
				views := make([]models.JobStatusView, 0, len(jobs))
				for i := range jobs {
					views = append(views, jobs[i].View())
				}
				return printJSON(views)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list (0 for all)")
	return cmd
}

func proposalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proposals [status]",
		Short: "List sync proposals (pending by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.ProposalPending
			if len(args) == 1 {
				status = models.ProposalStatus(args[0])
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				proposals, err := a.DedupService.ListProposals(ctx, status)
				if err != nil {
					return err
				}
				return printJSON(proposals)
			})
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Apply a pending proposal to the canonical posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				postID, err := a.DedupService.Approve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Approved %s -> %s\n", args[0], postID)
				return nil
			})
		},
	}
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <proposal-id> [reason...]",
		Short: "Reject a pending proposal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := strings.Join(args[1:], " ")
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.DedupService.Reject(ctx, args[0], reason); err != nil {
					return err
				}
				fmt.Printf("Rejected %s\n", args[0])
				return nil
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Propose merges for duplicate canonical posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				result, err := a.DedupService.Cleanup(ctx)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
}
