package models

// SearchStatus reports how completely a Retriever.Search call satisfied
// its query against the configured pagination and novelty bounds.
type SearchStatus string

// Search statuses.
const (
	SearchStatusSatisfied SearchStatus = "satisfied"
	SearchStatusPartial   SearchStatus = "partial"
	SearchStatusExhausted SearchStatus = "exhausted"
)

// DedupStats reports how many CanonicalEntry merges occurred during one
// search, for operator visibility into duplicate suppression.
type DedupStats struct {
	SERPItems      int `json:"serp_items"`
	APIPapers      int `json:"api_papers"`
	MergedEntries  int `json:"merged_entries"`
	UniqueEntries  int `json:"unique_entries"`
}

// SearchResult is what Retriever.Search returns, and what get_status
// surfaces per search (§6).
type SearchResult struct {
	SearchID        string       `json:"search_id"`
	Status          SearchStatus `json:"status"`
	PagesFetched    int          `json:"pages_fetched"`
	UsefulFragments int          `json:"useful_fragments"`
	HarvestRate     float64      `json:"harvest_rate"`
	NoveltyScore    float64      `json:"novelty_score"`
	ClaimsFound     int          `json:"claims_found"`
	DedupStats      DedupStats   `json:"dedup_stats"`
	HasPrimarySource bool        `json:"has_primary_source"`
}

// SearchOptions configures one Retriever.Search invocation.
type SearchOptions struct {
	Engines      []string `json:"engines,omitempty"`
	TimeRange    string   `json:"time_range,omitempty"`
	SERPMaxPages int      `json:"serp_max_pages,omitempty"`
}
