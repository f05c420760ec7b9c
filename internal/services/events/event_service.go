package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// Service implements EventService with a pub/sub pattern keyed by fact type
type Service struct {
	subscribers map[string][]interfaces.EventHandler
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[string][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for a fact type
func (s *Service) Subscribe(factType string, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[factType] = append(s.subscribers[factType], handler)

	s.logger.Debug().
		Str("fact_type", factType).
		Int("subscriber_count", len(s.subscribers[factType])).
		Msg("Event handler subscribed")

	return nil
}

func (s *Service) handlers(fact models.Fact) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interfaces.EventHandler(nil), s.subscribers[fact.FactType()]...)
}

// Publish sends a fact to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, fact models.Fact) error {
	if fact == nil {
		return fmt.Errorf("fact cannot be nil")
	}

	handlers := s.handlers(fact)
	if len(handlers) == 0 {
		return nil
	}

	// Handlers outlive the publisher's request scope
	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		h := handler
		common.SafeGo(s.logger, "event:"+fact.FactType(), func() {
			if err := h(ctx, fact); err != nil {
				s.logger.Error().
					Err(err).
					Str("fact_type", fact.FactType()).
					Msg("Event handler failed")
			}
		})
	}

	return nil
}

// PublishSync sends a fact to all subscribers and waits for them
func (s *Service) PublishSync(ctx context.Context, fact models.Fact) error {
	if fact == nil {
		return fmt.Errorf("fact cannot be nil")
	}

	handlers := s.handlers(fact)
	if len(handlers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			defer common.Recover(s.logger, "event:"+fact.FactType())
			if err := h(ctx, fact); err != nil {
				s.logger.Error().
					Err(err).
					Str("fact_type", fact.FactType()).
					Msg("Event handler failed")
				errChan <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %d errors", len(errs))
	}

	return nil
}

// Close drops every subscriber
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[string][]interfaces.EventHandler)
	s.logger.Debug().Msg("Event service closed")

	return nil
}
