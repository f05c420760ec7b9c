package interfaces

import (
	"context"

	"github.com/ternarybob/gleaner/internal/models"
)

// EventHandler handles a published fact
type EventHandler func(ctx context.Context, fact models.Fact) error

// EventService is a pub/sub bus for facts. Only successful outcomes are
// published; failures stay on the action's error return.
type EventService interface {
	// Subscribe registers handler for facts whose FactType() equals factType
	Subscribe(factType string, handler EventHandler) error

	// Publish delivers fact to all subscribers asynchronously
	Publish(ctx context.Context, fact models.Fact) error

	// PublishSync delivers fact and waits for all handlers to complete
	PublishSync(ctx context.Context, fact models.Fact) error

	// Close shuts down the event service
	Close() error
}
