package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/models"
)

// Cleanup is the periodic pass that catches duplicates the per-run sync
// missed. It judges with the stronger cleanup model and stages a cleanup
// batch: merge proposals for equivalent active posts, and update proposals
// superseding pending creates that duplicate an active post.
func (s *Service) Cleanup(ctx context.Context) (*models.CleanupResult, error) {
	startTime := time.Now()
	result := &models.CleanupResult{}

	active, err := s.posts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active posts: %w", err)
	}
	pending, err := s.proposals.ListProposals(ctx, models.ProposalPending)
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}

	// posts already named by a pending merge or update are left alone
	claimed := make(map[string]bool)
	superseded := make(map[string]bool)
	for _, p := range pending {
		if p.Kind == models.ProposalMerge || p.Kind == models.ProposalUpdate {
			claimed[p.TargetID] = true
			for _, id := range p.MergeIDs {
				claimed[id] = true
			}
		}
		if p.Supersedes != "" {
			superseded[p.Supersedes] = true
		}
	}

	var proposals []models.SyncProposal

	merges, err := s.findMerges(ctx, active, claimed, result)
	if err != nil {
		return nil, err
	}
	proposals = append(proposals, merges...)

	supersedes, err := s.findSuperseded(ctx, active, pending, superseded, result)
	if err != nil {
		return nil, err
	}
	proposals = append(proposals, supersedes...)

	if len(proposals) == 0 {
		s.logger.Info().Int("pairs", result.PairsCompared).Msg("Cleanup found nothing to propose")
		return result, nil
	}

	now := time.Now()
	batch := &models.SyncBatch{ID: common.NewBatchID(), Cleanup: true, CreatedAt: now}
	for i := range proposals {
		proposals[i].ID = common.NewProposalID()
		proposals[i].BatchID = batch.ID
		proposals[i].Status = models.ProposalPending
		proposals[i].CreatedAt = now
	}
	if err := s.stage(ctx, batch, proposals); err != nil {
		return nil, err
	}
	result.BatchID = batch.ID
	result.ProposalsMade = len(proposals)

	s.logger.Info().
		Str("batch_id", batch.ID).
		Int("pairs", result.PairsCompared).
		Int("judge_calls", result.JudgeCalls).
		Int("proposals", result.ProposalsMade).
		Dur("duration", time.Since(startTime)).
		Msg("Cleanup staged proposals")
	return result, nil
}

// findMerges pairs active posts above the cleanup threshold. The older post
// of an equivalent pair survives; each post joins at most one merge.
func (s *Service) findMerges(ctx context.Context, active []models.Post, claimed map[string]bool, result *models.CleanupResult) ([]models.SyncProposal, error) {
	vectors := make([][]float32, len(active))
	for i := range active {
		vectors[i] = active[i].Embedding
	}

	used := make(map[string]bool)
	var proposals []models.SyncProposal
	for _, p := range similarPairs(vectors, s.config.CleanupThreshold) {
		result.PairsCompared++
		a, b := &active[p.i], &active[p.j]
		if used[a.ID] || used[b.ID] || claimed[a.ID] || claimed[b.ID] {
			continue
		}

		result.JudgeCalls++
		v, err := s.judge(ctx, "cleanup", s.config.CleanupModel, a.PostFields, b.PostFields)
		if err != nil {
			return nil, err
		}
		if !v.Equivalent {
			continue
		}

		target, merged := a, b
		if merged.CreatedAt.Before(target.CreatedAt) {
			target, merged = merged, target
		}
		used[a.ID] = true
		used[b.ID] = true

		folded := models.MergeFields(target.PostFields, merged.PostFields)
		proposals = append(proposals, models.SyncProposal{
			Kind:       models.ProposalMerge,
			TargetID:   target.ID,
			MergeIDs:   []string{merged.ID},
			Payload:    folded,
			Changes:    models.DiffFields(target.PostFields, folded),
			SourceIDs:  models.UnionStrings(target.SourceIDs, merged.SourceIDs),
			Similarity: p.similarity,
			Reason:     v.Reason,
		})
	}
	return proposals, nil
}

// findSuperseded checks pending creates against active posts approved since
// they were staged. A match becomes an update that supersedes the create.
func (s *Service) findSuperseded(ctx context.Context, active []models.Post, pending []models.SyncProposal, superseded map[string]bool, result *models.CleanupResult) ([]models.SyncProposal, error) {
	var proposals []models.SyncProposal
	for _, create := range pending {
		if create.Kind != models.ProposalCreate || superseded[create.ID] || len(create.Embedding) == 0 {
			continue
		}

		type scored struct {
			post       *models.Post
			similarity float64
		}
		var matches []scored
		for i := range active {
			result.PairsCompared++
			if sim := Cosine(create.Embedding, active[i].Embedding); sim >= s.config.CleanupThreshold {
				matches = append(matches, scored{post: &active[i], similarity: sim})
			}
		}
		sort.SliceStable(matches, func(a, b int) bool { return matches[a].similarity > matches[b].similarity })
		if len(matches) > maxCrossRunJudgments {
			matches = matches[:maxCrossRunJudgments]
		}

		for _, m := range matches {
			result.JudgeCalls++
			v, err := s.judge(ctx, "cleanup", s.config.CleanupModel, m.post.PostFields, create.Payload)
			if err != nil {
				return nil, err
			}
			if !v.Equivalent {
				continue
			}
			proposals = append(proposals, models.SyncProposal{
				Kind:       models.ProposalUpdate,
				TargetID:   m.post.ID,
				Supersedes: create.ID,
				Payload:    create.Payload,
				Changes:    models.DiffFields(m.post.PostFields, create.Payload),
				SourceIDs:  create.SourceIDs,
				Embedding:  create.Embedding,
				Similarity: m.similarity,
				Reason:     v.Reason,
			})
			break
		}
	}
	return proposals, nil
}
