package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/gleaner/internal/models"
)

func TestExtractSpec(t *testing.T) {
	spec := extractSpec("src_1", nil)
	assert.Equal(t, models.JobKindRegeneratePosts, spec.Kind)
	assert.Equal(t, models.RegeneratePayload{SourceID: "src_1"}, spec.Payload)

	spec = extractSpec("src_1", []string{"https://pantry.org/"})
	assert.Equal(t, models.JobKindExtractPosts, spec.Kind)
	assert.Equal(t, "src_1", spec.SourceID)
	payload, ok := spec.Payload.(models.ExtractPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"https://pantry.org/"}, payload.PageURLs)
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "discover", "crawl", "extract", "job", "jobs", "proposals", "approve", "reject", "cleanup", "version"} {
		assert.True(t, names[want], want)
	}
}
