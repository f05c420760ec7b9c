package extraction

import (
	"fmt"
	"strings"

	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

const narrativeSystem = `You extract community service listings and need posts from website pages.
Each post describes one service, program or request for help offered by the organization: what it is, who it is for, how to get it.
Ignore navigation, donation appeals, news items and staff bios unless they describe a service.
Only use facts stated on the pages. Leave a field empty when the pages do not state it.
For every post list the numbers of the pages it was drawn from.`

const mergeSystem = `You receive candidate posts extracted independently from different batches of pages of one website.
Group candidates that describe the same service or need, including variants with different wording or partial detail.
For each group return the member indexes and one merged post that keeps every stated fact.
Candidates that have no duplicate do not need to be listed.`

const enrichSystem = `You complete a community service listing that is missing details.
Use web_search to find pages about the service and fetch_page to read them. Prefer the organization's own website.
When you are done, or cannot find more, reply without calling a tool with only a JSON object:
{"contact_info": "...", "schedule": "..."}
Use an empty string for anything you could not confirm. Never guess.`

// postProperties is the JSON schema of one post's fields
func postProperties() map[string]interface{} {
	text := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	return map[string]interface{}{
		"title":         text("Name of the service or need"),
		"short_summary": text("One sentence summary"),
		"description":   text("Full description: what, who for, how to access"),
		"contact_info":  text("Phone, email, address or contact person"),
		"schedule":      text("Opening hours, dates or frequency"),
		"tags": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Short lower-case categories such as food, housing, youth",
		},
	}
}

func narrativeSchema() map[string]interface{} {
	props := postProperties()
	props["pages"] = map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "integer"},
		"description": "Numbers of the pages this post was drawn from",
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"posts": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":       "object",
					"properties": props,
					"required":   []string{"title", "short_summary", "description", "pages"},
				},
			},
		},
		"required": []string{"posts"},
	}
}

func mergeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"groups": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"members": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "integer"},
						},
						"post": map[string]interface{}{
							"type":       "object",
							"properties": postProperties(),
						},
					},
					"required": []string{"members", "post"},
				},
			},
		},
		"required": []string{"groups"},
	}
}

var enrichTools = []interfaces.Tool{
	{
		Name:        toolWebSearch,
		Description: "Search the web. Returns titles, urls and snippets.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "Search query"},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        toolFetchPage,
		Description: "Fetch a web page and return its text as markdown.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{"type": "string", "description": "Absolute http or https url"},
			},
			"required": []string{"url"},
		},
	},
}

func narrativePrompt(b batch) string {
	var sb strings.Builder
	sb.WriteString("Extract every post from these pages.\n\n")
	for i, page := range b.Pages {
		sb.WriteString(pageHeader(i+1, page.URL, page.Title))
		sb.WriteString(page.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func mergePrompt(candidates []models.ExtractedPost) string {
	var sb strings.Builder
	sb.WriteString("Group duplicate candidates.\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "### Candidate %d\nTitle: %s\nSummary: %s\nDescription: %s\n", i, c.Title, c.ShortSummary, c.Description)
		if c.ContactInfo != "" {
			fmt.Fprintf(&sb, "Contact: %s\n", c.ContactInfo)
		}
		if c.Schedule != "" {
			fmt.Fprintf(&sb, "Schedule: %s\n", c.Schedule)
		}
		fmt.Fprintf(&sb, "Pages: %s\n\n", strings.Join(c.PageIDs, ", "))
	}
	return sb.String()
}

func enrichPrompt(post *models.ExtractedPost, missing []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Find the missing %s for this listing.\n\n", strings.Join(missing, " and "))
	fmt.Fprintf(&sb, "Title: %s\nSummary: %s\nDescription: %s\n", post.Title, post.ShortSummary, post.Description)
	if post.ContactInfo != "" {
		fmt.Fprintf(&sb, "Contact: %s\n", post.ContactInfo)
	}
	if post.Schedule != "" {
		fmt.Fprintf(&sb, "Schedule: %s\n", post.Schedule)
	}
	if len(post.PageIDs) > 0 {
		fmt.Fprintf(&sb, "Found on: %s\n", strings.Join(post.PageIDs, ", "))
	}
	return sb.String()
}
