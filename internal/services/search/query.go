package search

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a query token
type TokenType int

const (
	// TokenTypeTerm represents a regular search term
	TokenTypeTerm TokenType = iota
	// TokenTypePhrase represents a quoted phrase
	TokenTypePhrase
	// TokenTypeQualifier represents a key:value pair such as site:example.org
	TokenTypeQualifier
)

// Token represents a parsed token from the query
type Token struct {
	Value    string
	Type     TokenType
	Excluded bool // prefixed with -
}

// Query is a parsed discovery query. Terms and phrases go to the search
// backend; site qualifiers and exclusions are also enforced on the results
// because grounded search treats them as hints only.
type Query struct {
	Raw          string
	Tokens       []Token
	Sites        []string // site:host
	ExcludeSites []string // -site:host
	ExcludeTerms []string // -term, matched against title and url
}

// ParseQuery tokenizes a Google-style query
func ParseQuery(raw string) Query {
	q := Query{Raw: raw, Tokens: Tokenize(raw)}
	for _, token := range q.Tokens {
		if token.Type == TokenTypeQualifier {
			key, value := splitQualifier(token.Value)
			if key != "site" {
				continue
			}
			host := normalizeHost(value)
			if token.Excluded {
				q.ExcludeSites = append(q.ExcludeSites, host)
			} else {
				q.Sites = append(q.Sites, host)
			}
			continue
		}
		if token.Excluded {
			q.ExcludeTerms = append(q.ExcludeTerms, strings.ToLower(token.Value))
		}
	}
	return q
}

// Tokenize breaks a query string into tokens, respecting quotes and the -
// exclusion prefix. Iteration is rune-safe.
func Tokenize(query string) []Token {
	var tokens []Token
	var current strings.Builder
	var inQuote bool
	var excluded bool

	flush := func(tokenType TokenType) {
		if current.Len() == 0 {
			return
		}
		value := current.String()
		if tokenType == TokenTypeTerm && isQualifier(value) {
			tokenType = TokenTypeQualifier
		}
		tokens = append(tokens, Token{Value: value, Type: tokenType, Excluded: excluded})
		current.Reset()
		excluded = false
	}

	for _, ch := range strings.TrimSpace(query) {
		if ch == '"' {
			if inQuote {
				flush(TokenTypePhrase)
				inQuote = false
			} else {
				flush(TokenTypeTerm)
				inQuote = true
			}
			continue
		}

		if inQuote {
			current.WriteRune(ch)
			continue
		}

		if ch == '-' && current.Len() == 0 {
			excluded = true
			continue
		}

		if unicode.IsSpace(ch) {
			flush(TokenTypeTerm)
			excluded = false
			continue
		}

		current.WriteRune(ch)
	}

	if inQuote {
		// unclosed quote still counts as a phrase
		flush(TokenTypePhrase)
	} else {
		flush(TokenTypeTerm)
	}

	return tokens
}

// isQualifier checks for key:value with an alphanumeric key and one colon
func isQualifier(token string) bool {
	colonIdx := strings.Index(token, ":")
	if colonIdx <= 0 || colonIdx == len(token)-1 {
		return false
	}
	if strings.Count(token, ":") > 1 {
		return false
	}
	for _, ch := range token[:colonIdx] {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			return false
		}
	}
	return true
}

func splitQualifier(qualifier string) (string, string) {
	parts := strings.SplitN(qualifier, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.ToLower(parts[0]), parts[1]
}

// BackendText is the query sent to the search backend: every included term and
// phrase plus the site qualifiers, with exclusions left to result filtering
func (q Query) BackendText() string {
	var parts []string
	for _, token := range q.Tokens {
		if token.Excluded {
			continue
		}
		switch token.Type {
		case TokenTypePhrase:
			parts = append(parts, `"`+token.Value+`"`)
		default:
			parts = append(parts, token.Value)
		}
	}
	return strings.Join(parts, " ")
}

// Allows reports whether a result host and title satisfy the query's
// site and exclusion constraints
func (q Query) Allows(host, title string) bool {
	host = normalizeHost(host)
	if len(q.Sites) > 0 && !matchesAnyDomain(host, q.Sites) {
		return false
	}
	if matchesAnyDomain(host, q.ExcludeSites) {
		return false
	}
	haystack := strings.ToLower(host + " " + title)
	for _, term := range q.ExcludeTerms {
		if strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// matchesAnyDomain reports whether host equals or is a subdomain of any domain
func matchesAnyDomain(host string, domains []string) bool {
	for _, domain := range domains {
		domain = normalizeHost(domain)
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}
