package validation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"golang.org/x/sync/singleflight"
)

const maxRobotsSize = 512 * 1024

type robotsRule struct {
	pattern string
	allow   bool
}

// RobotsRules is the parsed robots.txt group that applies to one user agent
type RobotsRules struct {
	rules []robotsRule
	delay time.Duration
}

// AllowAll is the policy used when robots.txt is absent or unreachable with fail-open
var AllowAll = &RobotsRules{}

// disallowAll is used when robots.txt is unreachable and fail-open is disabled
var disallowAll = &RobotsRules{rules: []robotsRule{{pattern: "/", allow: false}}}

// CrawlDelay returns the Crawl-delay directive, zero when absent
func (r *RobotsRules) CrawlDelay() time.Duration {
	if r == nil {
		return 0
	}
	return r.delay
}

// Allowed applies the longest matching rule to path (including the query).
// Allow wins ties; no matching rule means allowed.
func (r *RobotsRules) Allowed(path string) bool {
	if r == nil || len(r.rules) == 0 {
		return true
	}
	if path == "" {
		path = "/"
	}
	if path == "/robots.txt" {
		return true
	}

	bestLen := -1
	allowed := true
	for _, rule := range r.rules {
		if !matchPattern(rule.pattern, path) {
			continue
		}
		length := len(rule.pattern)
		if length > bestLen || (length == bestLen && rule.allow) {
			bestLen = length
			allowed = rule.allow
		}
	}
	return allowed
}

// matchPattern matches a robots path pattern supporting '*' wildcards and a trailing '$' anchor
func matchPattern(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])

	if len(parts) == 1 {
		return !anchored || pos == len(path)
	}

	for i := 1; i < len(parts); i++ {
		part := parts[i]
		last := i == len(parts)-1
		if last && anchored {
			return strings.HasSuffix(path[pos:], part)
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

// productToken returns the lower-cased product token of a user agent string, e.g. "gleanerbot"
func productToken(userAgent string) string {
	token := strings.ToLower(strings.TrimSpace(userAgent))
	if i := strings.IndexAny(token, "/ "); i >= 0 {
		token = token[:i]
	}
	return token
}

// ParseRobots parses a robots.txt body and returns the rules of the group
// matching userAgent, falling back to the '*' group. Consecutive user-agent
// lines form one group and all groups naming the agent are merged.
func ParseRobots(body, userAgent string) *RobotsRules {
	token := productToken(userAgent)

	var (
		specific, wildcard RobotsRules
		matchedSpecific    bool
		currentAgents      []string
		lastDirective      string
	)

	for _, line := range strings.Split(body, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directive, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			agent := strings.ToLower(value)
			if lastDirective == "user-agent" {
				currentAgents = append(currentAgents, agent)
			} else {
				currentAgents = []string{agent}
			}
		case "allow", "disallow", "crawl-delay":
			if len(currentAgents) == 0 {
				break
			}
			for _, agent := range currentAgents {
				var target *RobotsRules
				switch {
				case agent == "":
					continue
				case agent == "*":
					target = &wildcard
				case token != "" && strings.HasPrefix(token, agent):
					target = &specific
					matchedSpecific = true
				default:
					continue
				}
				applyDirective(target, directive, value)
			}
		}
		lastDirective = directive
	}

	if matchedSpecific {
		return &specific
	}
	return &wildcard
}

func applyDirective(r *RobotsRules, directive, value string) {
	switch directive {
	case "allow":
		if value != "" {
			r.rules = append(r.rules, robotsRule{pattern: value, allow: true})
		}
	case "disallow":
		// An empty Disallow allows everything
		if value != "" {
			r.rules = append(r.rules, robotsRule{pattern: value, allow: false})
		}
	case "crawl-delay":
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil || seconds < 0 {
			return
		}
		r.delay = time.Duration(seconds * float64(time.Second))
	}
}

// RobotsPolicy fetches and caches robots.txt per host for the lifetime of one
// crawl run. Create a new policy for every run.
type RobotsPolicy struct {
	client    *http.Client
	userAgent string
	config    common.RobotsConfig
	maxDelay  time.Duration
	logger    arbor.ILogger

	mu    sync.Mutex
	cache map[string]*RobotsRules
	group singleflight.Group
}

// NewRobotsPolicy creates a per-run robots policy
func NewRobotsPolicy(client *http.Client, userAgent string, config common.RobotsConfig, logger arbor.ILogger) *RobotsPolicy {
	return &RobotsPolicy{
		client:    client,
		userAgent: userAgent,
		config:    config,
		maxDelay:  common.ParseDurationOr(config.MaxCrawlDelay, 30*time.Second),
		logger:    logger,
		cache:     make(map[string]*RobotsRules),
	}
}

// Rules returns the cached rules for the host of u, fetching robots.txt on first use
func (p *RobotsPolicy) Rules(ctx context.Context, u *url.URL) *RobotsRules {
	if !p.config.Enabled {
		return AllowAll
	}
	base := u.Scheme + "://" + u.Host

	p.mu.Lock()
	if rules, ok := p.cache[base]; ok {
		p.mu.Unlock()
		return rules
	}
	p.mu.Unlock()

	v, _, _ := p.group.Do(base, func() (interface{}, error) {
		rules := p.fetch(ctx, base)
		p.mu.Lock()
		p.cache[base] = rules
		p.mu.Unlock()
		return rules, nil
	})
	return v.(*RobotsRules)
}

// Check reports whether u may be fetched and the crawl delay for its host
func (p *RobotsPolicy) Check(ctx context.Context, u *url.URL) (bool, time.Duration) {
	rules := p.Rules(ctx, u)
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.Allowed(path), rules.CrawlDelay()
}

func (p *RobotsPolicy) fetch(ctx context.Context, base string) *RobotsRules {
	robotsURL := base + "/robots.txt"

	body, status, err := p.get(ctx, robotsURL)
	switch {
	case err != nil || status >= 500:
		if err == nil {
			err = fmt.Errorf("status %d", status)
		}
		if !p.config.FailOpen {
			p.logger.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt unreachable, disallowing host")
			return disallowAll
		}
		p.logger.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt unreachable, allowing all paths")
		return AllowAll
	case status >= 400:
		// 4xx means no restrictions
		p.logger.Debug().Str("url", robotsURL).Int("status", status).Msg("No robots.txt")
		return AllowAll
	}

	rules := ParseRobots(body, p.userAgent)
	if rules.delay > p.maxDelay {
		rules.delay = p.maxDelay
	}
	p.logger.Debug().
		Str("url", robotsURL).
		Int("rules", len(rules.rules)).
		Dur("crawl_delay", rules.delay).
		Msg("Loaded robots.txt")
	return rules
}

func (p *RobotsPolicy) get(ctx context.Context, robotsURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}
