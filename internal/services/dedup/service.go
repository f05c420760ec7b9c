package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// maxCrossRunJudgments bounds how many active posts one candidate is judged
// against in phase 2, most similar first
const maxCrossRunJudgments = 3

// Service is the deduplication and sync engine. It stages proposals and
// applies them on approval; staging never mutates canonical posts.
type Service struct {
	config    common.DedupConfig
	posts     interfaces.PostStorage
	proposals interfaces.ProposalStorage
	ai        interfaces.AIService
	events    interfaces.EventService
	logger    arbor.ILogger
}

func NewService(
	config common.DedupConfig,
	posts interfaces.PostStorage,
	proposals interfaces.ProposalStorage,
	ai interfaces.AIService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:    config,
		posts:     posts,
		proposals: proposals,
		ai:        ai,
		events:    events,
		logger:    logger,
	}
}

// BatchIDForJob derives the batch id of a sync job so a retried job finds
// the batch an earlier attempt staged
func BatchIDForJob(jobID string) string {
	return "batch_" + jobID
}

// candidate is an extracted post with its embedding
type candidate struct {
	post      models.ExtractedPost
	embedding []float32
}

// SyncPosts stages one proposal per surviving candidate: phase 1 folds
// equivalent candidates of this run together, phase 2 matches survivors
// against active posts (update) or stages them as new (create).
func (s *Service) SyncPosts(ctx context.Context, jobID string, payload models.SyncPayload) (*models.SyncResult, error) {
	startTime := time.Now()
	batchID := BatchIDForJob(jobID)
	result := &models.SyncResult{SourceID: payload.SourceID, BatchID: batchID}

	if existing, err := s.proposals.GetBatch(ctx, batchID); err == nil {
		s.logger.Info().Str("batch_id", batchID).Msg("Batch already staged, reusing it")
		return s.summarizeBatch(ctx, existing, result)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if len(payload.Posts) == 0 {
		s.logger.Info().Str("source_id", payload.SourceID).Msg("No posts to sync")
		return result, nil
	}

	candidates, err := s.embedAll(ctx, payload.Posts)
	if err != nil {
		return nil, err
	}

	survivors, err := s.foldWithinRun(ctx, candidates)
	if err != nil {
		return nil, err
	}
	result.Merged = len(candidates) - len(survivors)

	active, err := s.posts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active posts: %w", err)
	}

	now := time.Now()
	proposals := make([]models.SyncProposal, 0, len(survivors))
	for _, c := range survivors {
		proposal, err := s.matchActive(ctx, c, active)
		if err != nil {
			return nil, err
		}
		proposal.ID = common.NewProposalID()
		proposal.BatchID = batchID
		proposal.Status = models.ProposalPending
		proposal.CreatedAt = now
		proposals = append(proposals, *proposal)

		if proposal.Kind == models.ProposalUpdate {
			result.Updates++
		} else {
			result.Creates++
		}
	}

	batch := &models.SyncBatch{ID: batchID, SourceID: payload.SourceID, JobID: jobID, CreatedAt: now}
	if err := s.stage(ctx, batch, proposals); err != nil {
		if errors.Is(err, models.ErrBatchExists) {
			existing, getErr := s.proposals.GetBatch(ctx, batchID)
			if getErr != nil {
				return nil, getErr
			}
			return s.summarizeBatch(ctx, existing, &models.SyncResult{SourceID: payload.SourceID, BatchID: batchID})
		}
		return nil, err
	}
	result.PostsSynced = len(proposals)

	s.logger.Info().
		Str("source_id", payload.SourceID).
		Str("batch_id", batchID).
		Int("candidates", len(candidates)).
		Int("merged", result.Merged).
		Int("creates", result.Creates).
		Int("updates", result.Updates).
		Dur("duration", time.Since(startTime)).
		Msg("Posts synced to proposals")

	return result, nil
}

func (s *Service) embedAll(ctx context.Context, posts []models.ExtractedPost) ([]candidate, error) {
	out := make([]candidate, 0, len(posts))
	for _, post := range posts {
		embedding, err := s.ai.Embed(ctx, post.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("embed candidate %q: %w", post.Title, err)
		}
		out = append(out, candidate{post: post, embedding: embedding})
	}
	return out, nil
}

// foldWithinRun is phase 1. Pairs above the intra-run threshold are judged,
// most similar first; equivalent pairs join one group and each group becomes
// one candidate referencing every contributing page.
func (s *Service) foldWithinRun(ctx context.Context, candidates []candidate) ([]candidate, error) {
	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.embedding
	}

	uf := newUnionFind(len(candidates))
	for _, p := range similarPairs(vectors, s.config.IntraRunThreshold) {
		if uf.find(p.i) == uf.find(p.j) {
			continue
		}
		v, err := s.judge(ctx, "intra_run", "", candidates[p.i].post.PostFields, candidates[p.j].post.PostFields)
		if err != nil {
			return nil, err
		}
		if v.Equivalent {
			uf.union(p.i, p.j)
		}
	}

	var survivors []candidate
	for _, members := range uf.groups() {
		if len(members) == 1 {
			survivors = append(survivors, candidates[members[0]])
			continue
		}
		merged := candidates[members[0]].post
		for _, idx := range members[1:] {
			other := candidates[idx].post
			merged.PostFields = models.MergeFields(merged.PostFields, other.PostFields)
			merged.PageIDs = models.UnionStrings(merged.PageIDs, other.PageIDs)
		}
		merged.Absent = merged.MissingFields()

		embedding, err := s.ai.Embed(ctx, merged.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("embed merged candidate %q: %w", merged.Title, err)
		}
		survivors = append(survivors, candidate{post: merged, embedding: embedding})
	}
	return survivors, nil
}

// matchActive is phase 2 for one candidate: an update proposal against the
// first equivalent active post above the cross-run threshold, otherwise a
// create proposal
func (s *Service) matchActive(ctx context.Context, c candidate, active []models.Post) (*models.SyncProposal, error) {
	type scored struct {
		post       *models.Post
		similarity float64
	}
	var matches []scored
	for i := range active {
		if sim := Cosine(c.embedding, active[i].Embedding); sim >= s.config.CrossRunThreshold {
			matches = append(matches, scored{post: &active[i], similarity: sim})
		}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].similarity > matches[b].similarity })
	if len(matches) > maxCrossRunJudgments {
		matches = matches[:maxCrossRunJudgments]
	}

	proposal := &models.SyncProposal{
		Kind:      models.ProposalCreate,
		Payload:   c.post.PostFields,
		SourceIDs: c.post.PageIDs,
		Embedding: c.embedding,
	}

	for _, m := range matches {
		v, err := s.judge(ctx, "cross_run", "", m.post.PostFields, c.post.PostFields)
		if err != nil {
			return nil, err
		}
		if !v.Equivalent {
			continue
		}
		proposal.Kind = models.ProposalUpdate
		proposal.TargetID = m.post.ID
		proposal.Changes = models.DiffFields(m.post.PostFields, c.post.PostFields)
		proposal.Similarity = m.similarity
		proposal.Reason = v.Reason
		return proposal, nil
	}

	if len(matches) > 0 {
		proposal.Similarity = matches[0].similarity
	}
	return proposal, nil
}

// stage stores the batch atomically, then announces each proposal
func (s *Service) stage(ctx context.Context, batch *models.SyncBatch, proposals []models.SyncProposal) error {
	batch.ProposalIDs = make([]string, 0, len(proposals))
	for _, p := range proposals {
		batch.ProposalIDs = append(batch.ProposalIDs, p.ID)
	}
	if err := s.proposals.StageBatch(ctx, batch, proposals); err != nil {
		return fmt.Errorf("stage batch: %w", err)
	}
	for _, p := range proposals {
		proposalsStaged.WithLabelValues(string(p.Kind)).Inc()
		s.publish(ctx, models.ProposalStaged{ProposalID: p.ID, BatchID: batch.ID, Kind: p.Kind})
	}
	return nil
}

// summarizeBatch rebuilds a SyncResult from a staged batch
func (s *Service) summarizeBatch(ctx context.Context, batch *models.SyncBatch, result *models.SyncResult) (*models.SyncResult, error) {
	proposals, err := s.proposals.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	result.PostsSynced = len(proposals)
	for _, p := range proposals {
		switch p.Kind {
		case models.ProposalCreate:
			result.Creates++
		case models.ProposalUpdate:
			result.Updates++
		}
	}
	return result, nil
}

// BatchStatus derives a batch's status from its proposals
func (s *Service) BatchStatus(ctx context.Context, batchID string) (models.BatchStatus, error) {
	if _, err := s.proposals.GetBatch(ctx, batchID); err != nil {
		return "", err
	}
	proposals, err := s.proposals.ListByBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	return models.DeriveBatchStatus(proposals), nil
}

// ListProposals returns proposals with status, or all when status is empty
func (s *Service) ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.SyncProposal, error) {
	return s.proposals.ListProposals(ctx, status)
}

func (s *Service) publish(ctx context.Context, fact models.Fact) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, fact); err != nil {
		s.logger.Warn().Err(err).Str("fact", fact.FactType()).Msg("Failed to publish fact")
	}
}
