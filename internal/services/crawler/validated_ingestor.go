package crawler

import (
	"context"

	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/validation"
)

// ValidatedIngestor checks URL safety and robots policy before delegating.
// It is built per crawl run because the robots policy caches per run.
type ValidatedIngestor struct {
	inner     interfaces.Ingestor
	validator *validation.URLValidator
	robots    *validation.RobotsPolicy
	limiter   *RateLimiter
}

// NewValidatedIngestor creates the wrapper. robots and limiter may be nil;
// when both are set the host delay is raised to the robots Crawl-delay.
func NewValidatedIngestor(inner interfaces.Ingestor, validator *validation.URLValidator, robots *validation.RobotsPolicy, limiter *RateLimiter) *ValidatedIngestor {
	return &ValidatedIngestor{
		inner:     inner,
		validator: validator,
		robots:    robots,
		limiter:   limiter,
	}
}

func (v *ValidatedIngestor) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	u, err := v.validator.Validate(ctx, rawURL)
	if err != nil {
		pagesFetched.WithLabelValues(string(models.FetchFailureKind(err))).Inc()
		return nil, err
	}

	if v.robots != nil {
		allowed, delay := v.robots.Check(ctx, u)
		if !allowed {
			pagesFetched.WithLabelValues(string(models.FailureBlocked)).Inc()
			return nil, models.NewBlockedError(rawURL, "disallowed by robots.txt")
		}
		if delay > 0 && v.limiter != nil {
			v.limiter.SetDomainDelay(u.Host, delay)
		}
	}

	page, err := v.inner.Fetch(ctx, rawURL)
	if err != nil {
		kind := models.FetchFailureKind(err)
		if kind == "" {
			kind = models.FailureNetwork
		}
		pagesFetched.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	pagesFetched.WithLabelValues("ok").Inc()
	return page, nil
}
