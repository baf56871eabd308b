package retriever

import (
	"regexp"

	"github.com/k-shibuki/lyra/pkg/models"
)

var (
	doiInURLPattern   = regexp.MustCompile(`(?i)10\.\d{4,9}/\S+`)
	arxivInURLPattern = regexp.MustCompile(`(?i)arxiv\.org/abs/(\S+)`)
	pmidInURLPattern  = regexp.MustCompile(`(?i)pubmed\.ncbi\.nlm\.nih\.gov/(\d+)`)
)

// canonicalIDForPaper extracts the paper's canonical identifier, preferring
// DOI > PMID > arXiv > CRID > URL, per spec.md §4.4 step 4.
func canonicalIDForPaper(p *models.Paper) string {
	switch {
	case p.Doi != "":
		return "doi:" + p.Doi
	case p.PMID != "":
		return "pmid:" + p.PMID
	case p.ArxivID != "":
		return "arxiv:" + p.ArxivID
	case p.CRID != "":
		return "crid:" + p.CRID
	default:
		return "url:" + p.URL
	}
}

// canonicalIDForSERP extracts a best-effort identifier from a SERP result's
// URL, falling back to the URL itself when no known academic identifier
// pattern appears in it.
func canonicalIDForSERP(r models.SERPResult) string {
	if m := doiInURLPattern.FindString(r.URL); m != "" {
		return "doi:" + m
	}
	if m := arxivInURLPattern.FindStringSubmatch(r.URL); len(m) == 2 {
		return "arxiv:" + m[1]
	}
	if m := pmidInURLPattern.FindStringSubmatch(r.URL); len(m) == 2 {
		return "pmid:" + m[1]
	}
	return "url:" + r.URL
}

// canonicalIndex deduplicates SERP items and academic papers discovered
// during one Retriever.Search call into CanonicalEntry values, unioning
// sources that resolve to the same canonical_id. Scoped to one call per
// DESIGN NOTES §9 — never a package-level dictionary.
type canonicalIndex struct {
	byID  map[string]*models.CanonicalEntry
	order []string
}

func newCanonicalIndex() *canonicalIndex {
	return &canonicalIndex{byID: make(map[string]*models.CanonicalEntry)}
}

// addSERP merges a SERP item into the index.
func (idx *canonicalIndex) addSERP(r models.SERPResult) {
	id := canonicalIDForSERP(r)
	entry, ok := idx.byID[id]
	if !ok {
		entry = &models.CanonicalEntry{CanonicalID: id, Source: models.CanonicalSourceSERP}
		idx.byID[id] = entry
		idx.order = append(idx.order, id)
	} else if entry.Source == models.CanonicalSourceAPI {
		entry.Source = models.CanonicalSourceBoth
	}
	entry.SERPResults = append(entry.SERPResults, r)
}

// addPaper merges an academic API paper into the index. Callers resolve a
// PMID/arXiv-only paper's DOI one level up, in Retriever.resolveDoi, before
// calling addPaper, so canonicalIDForPaper sees the DOI when one exists.
func (idx *canonicalIndex) addPaper(p *models.Paper) {
	id := canonicalIDForPaper(p)
	entry, ok := idx.byID[id]
	if !ok {
		entry = &models.CanonicalEntry{CanonicalID: id, Source: models.CanonicalSourceAPI, Paper: p}
		idx.byID[id] = entry
		idx.order = append(idx.order, id)
		return
	}
	if entry.Source == models.CanonicalSourceSERP {
		entry.Source = models.CanonicalSourceBoth
	}
	if entry.Paper == nil {
		entry.Paper = p
	}
}

// entries returns every merged CanonicalEntry in first-seen order.
func (idx *canonicalIndex) entries() []*models.CanonicalEntry {
	out := make([]*models.CanonicalEntry, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.byID[id])
	}
	return out
}

func (idx *canonicalIndex) mergedCount() int {
	merged := 0
	for _, id := range idx.order {
		if idx.byID[id].Source == models.CanonicalSourceBoth {
			merged++
		}
	}
	return merged
}
