package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/gleaner/internal/models"
)

// postIDFor derives the canonical id a create proposal produces, so approving
// again after a partial failure finds the post instead of duplicating it
func postIDFor(proposalID string) string {
	return "post_" + strings.TrimPrefix(proposalID, "prop_")
}

// Approve applies a pending proposal to canonical posts. It returns the id
// of the post the proposal created or changed.
func (s *Service) Approve(ctx context.Context, id string) (string, error) {
	var postID string
	var superseded string
	var kind models.ProposalKind

	err := s.proposals.DecideProposal(ctx, id, func(p *models.SyncProposal) error {
		var err error
		switch p.Kind {
		case models.ProposalCreate:
			postID, err = s.applyCreate(ctx, p)
		case models.ProposalUpdate:
			postID, err = s.applyUpdate(ctx, p)
		case models.ProposalMerge:
			postID, err = s.applyMerge(ctx, p)
		case models.ProposalReject:
			// discard recommendation, nothing canonical changes
		default:
			err = models.Permanent(fmt.Errorf("unknown proposal kind %q", p.Kind))
		}
		if err != nil {
			return err
		}

		now := time.Now()
		p.Status = models.ProposalApproved
		p.DecidedAt = &now
		if postID != "" && p.TargetID == "" {
			p.TargetID = postID
		}
		superseded = p.Supersedes
		kind = p.Kind
		return nil
	})
	if err != nil {
		return "", err
	}

	proposalsDecided.WithLabelValues(string(kind), string(models.ProposalApproved)).Inc()
	s.publish(ctx, models.ProposalDecided{ProposalID: id, Status: models.ProposalApproved, PostID: postID})
	s.logger.Info().Str("proposal_id", id).Str("kind", string(kind)).Str("post_id", postID).Msg("Proposal approved")

	if superseded != "" {
		if err := s.Reject(ctx, superseded, "superseded by "+id); err != nil && !errors.Is(err, models.ErrProposalNotPending) {
			s.logger.Warn().Err(err).Str("proposal_id", superseded).Msg("Failed to reject superseded proposal")
		}
	}
	return postID, nil
}

// Reject marks a pending proposal rejected; canonical posts are untouched
func (s *Service) Reject(ctx context.Context, id, reason string) error {
	var kind models.ProposalKind
	err := s.proposals.DecideProposal(ctx, id, func(p *models.SyncProposal) error {
		now := time.Now()
		p.Status = models.ProposalRejected
		p.DecidedAt = &now
		p.DeletedAt = &now
		if reason != "" {
			p.Reason = reason
		}
		kind = p.Kind
		return nil
	})
	if err != nil {
		return err
	}

	proposalsDecided.WithLabelValues(string(kind), string(models.ProposalRejected)).Inc()
	s.publish(ctx, models.ProposalDecided{ProposalID: id, Status: models.ProposalRejected})
	s.logger.Info().Str("proposal_id", id).Str("reason", reason).Msg("Proposal rejected")
	return nil
}

func (s *Service) applyCreate(ctx context.Context, p *models.SyncProposal) (string, error) {
	postID := postIDFor(p.ID)
	if existing, err := s.posts.GetPost(ctx, postID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	post := &models.Post{
		ID:         postID,
		PostFields: p.Payload,
		Status:     models.PostStatusActive,
		SourceIDs:  models.UnionStrings(p.SourceIDs),
		Embedding:  p.Embedding,
	}
	if err := s.posts.CreatePost(ctx, post); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return postID, nil
}

func (s *Service) applyUpdate(ctx context.Context, p *models.SyncProposal) (string, error) {
	err := s.posts.UpdatePost(ctx, p.TargetID, func(post *models.Post) error {
		if post.Status != models.PostStatusActive {
			return models.Permanent(fmt.Errorf("target post %s is %s", post.ID, post.Status))
		}
		models.ApplyChanges(&post.PostFields, p.Changes)
		post.SourceIDs = models.UnionStrings(post.SourceIDs, p.SourceIDs)
		if len(p.Embedding) > 0 {
			post.Embedding = p.Embedding
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("update post %s: %w", p.TargetID, err)
	}
	return p.TargetID, nil
}

func (s *Service) applyMerge(ctx context.Context, p *models.SyncProposal) (string, error) {
	if _, err := s.applyUpdate(ctx, p); err != nil {
		return "", err
	}
	for _, mergedID := range p.MergeIDs {
		err := s.posts.UpdatePost(ctx, mergedID, func(post *models.Post) error {
			post.Status = models.PostStatusMerged
			post.MergedInto = p.TargetID
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("retire merged post %s: %w", mergedID, err)
		}
	}
	return p.TargetID, nil
}
