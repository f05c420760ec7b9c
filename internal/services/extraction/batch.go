package extraction

import "github.com/ternarybob/gleaner/internal/models"

type batchPage struct {
	URL     string
	Title   string
	Content string
}

// batch is the unit of one pass-1 call
type batch struct {
	Pages  []batchPage
	Tokens int
}

// buildBatches packs pages in order into batches of at most budget tokens.
// A page larger than the budget is truncated to fit and sent alone.
func buildBatches(pages []models.CachedPage, counter TokenCounter, budget int) []batch {
	var batches []batch
	var current batch

	flush := func() {
		if len(current.Pages) > 0 {
			batches = append(batches, current)
			current = batch{}
		}
	}

	for _, page := range pages {
		header := counter.Count(pageHeader(0, page.URL, page.Title))
		cost := header + counter.Count(page.Content)
		bp := batchPage{URL: page.URL, Title: page.Title, Content: page.Content}

		if cost > budget {
			flush()
			limit := budget - header
			if limit < 1 {
				limit = 1
			}
			bp.Content = counter.Truncate(page.Content, limit)
			batches = append(batches, batch{Pages: []batchPage{bp}, Tokens: header + counter.Count(bp.Content)})
			continue
		}

		if current.Tokens+cost > budget {
			flush()
		}
		current.Pages = append(current.Pages, bp)
		current.Tokens += cost
	}
	flush()

	return batches
}

// pageIDs maps 1-based page numbers cited by the model to urls. No valid
// citation means the post is attributed to every page of the batch.
func (b batch) pageIDs(numbers []int) []string {
	var urls []string
	for _, n := range numbers {
		if n >= 1 && n <= len(b.Pages) {
			urls = append(urls, b.Pages[n-1].URL)
		}
	}
	if len(urls) == 0 {
		for _, p := range b.Pages {
			urls = append(urls, p.URL)
		}
	}
	return models.UnionStrings(urls)
}
