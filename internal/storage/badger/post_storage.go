package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PostStorage persists canonical posts with one writer per post
type PostStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	locks  *common.KeyedLock
}

// NewPostStorage creates a new PostStorage instance
func NewPostStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PostStorage {
	return &PostStorage{db: db, logger: logger, locks: common.NewKeyedLock()}
}

func (s *PostStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := s.db.Store().Get(id, &post); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("post %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

func (s *PostStorage) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		return fmt.Errorf("post ID is required")
	}

	unlock := s.locks.Lock(post.ID)
	defer unlock()

	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	post.Version = 1
	if post.Status == "" {
		post.Status = models.PostStatusActive
	}

	if err := s.db.Store().Insert(post.ID, *post); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("post %s already exists", post.ID)
		}
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *PostStorage) UpdatePost(ctx context.Context, id string, fn func(post *models.Post) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	post, err := s.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(post); err != nil {
		return err
	}

	post.Version++
	post.UpdatedAt = time.Now()
	if err := s.db.Store().Update(id, *post); err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	return nil
}

func (s *PostStorage) ListActive(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	query := badgerhold.Where("Status").Eq(models.PostStatusActive).SortBy("CreatedAt")
	if err := s.db.Store().Find(&posts, query); err != nil {
		return nil, fmt.Errorf("failed to list active posts: %w", err)
	}
	return posts, nil
}
