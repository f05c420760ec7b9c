package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected []Token
	}{
		{
			name:  "Simple terms",
			query: "food bank",
			expected: []Token{
				{Value: "food", Type: TokenTypeTerm},
				{Value: "bank", Type: TokenTypeTerm},
			},
		},
		{
			name:  "Quoted phrase",
			query: `"community pantry" melbourne`,
			expected: []Token{
				{Value: "community pantry", Type: TokenTypePhrase},
				{Value: "melbourne", Type: TokenTypeTerm},
			},
		},
		{
			name:  "Excluded term and phrase",
			query: `pantry -jobs -"annual report"`,
			expected: []Token{
				{Value: "pantry", Type: TokenTypeTerm},
				{Value: "jobs", Type: TokenTypeTerm, Excluded: true},
				{Value: "annual report", Type: TokenTypePhrase, Excluded: true},
			},
		},
		{
			name:  "Site qualifiers",
			query: "pantry site:org.au -site:facebook.com",
			expected: []Token{
				{Value: "pantry", Type: TokenTypeTerm},
				{Value: "site:org.au", Type: TokenTypeQualifier},
				{Value: "site:facebook.com", Type: TokenTypeQualifier, Excluded: true},
			},
		},
		{
			name:  "Hyphen inside a term",
			query: "drop-in centre",
			expected: []Token{
				{Value: "drop-in", Type: TokenTypeTerm},
				{Value: "centre", Type: TokenTypeTerm},
			},
		},
		{
			name:  "Unclosed quote",
			query: `"free meals`,
			expected: []Token{
				{Value: "free meals", Type: TokenTypePhrase},
			},
		},
		{
			name:  "Unicode",
			query: "banque alimentaire café",
			expected: []Token{
				{Value: "banque", Type: TokenTypeTerm},
				{Value: "alimentaire", Type: TokenTypeTerm},
				{Value: "café", Type: TokenTypeTerm},
			},
		},
		{
			name:     "Empty",
			query:    "   ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.query))
		})
	}
}

func TestParseQuery(t *testing.T) {
	q := ParseQuery(`"food bank" site:www.Example.org -site:facebook.com -volunteer http://x`)

	assert.Equal(t, []string{"example.org"}, q.Sites)
	assert.Equal(t, []string{"facebook.com"}, q.ExcludeSites)
	assert.Equal(t, []string{"volunteer"}, q.ExcludeTerms)
	assert.Equal(t, `"food bank" site:www.Example.org http://x`, q.BackendText())
}

func TestQueryAllows(t *testing.T) {
	q := ParseQuery("pantry site:example.org -site:shop.example.org -jobs")

	assert.True(t, q.Allows("example.org", "Pantry"))
	assert.True(t, q.Allows("www.example.org", "Pantry"))
	assert.True(t, q.Allows("north.example.org", "Pantry"))
	assert.False(t, q.Allows("shop.example.org", "Pantry shop"))
	assert.False(t, q.Allows("other.org", "Pantry"))
	assert.False(t, q.Allows("example.org", "Jobs at the pantry"))
	assert.False(t, q.Allows("badexample.org", "Pantry"))

	open := ParseQuery("pantry")
	assert.True(t, open.Allows("anything.net", "whatever"))
}
