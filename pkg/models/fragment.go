package models

// FragmentType is the kind of text span a Fragment captures.
type FragmentType string

// Fragment types.
const (
	FragmentTypeParagraph      FragmentType = "paragraph"
	FragmentTypeAbstract       FragmentType = "abstract"
	FragmentTypeHeadingContext FragmentType = "heading_context"
)

// Fragment is an extracted text span used as evidence for or against claims.
//
// DESIGN NOTES (re-architected): the teacher's free-form "relevance_reason"
// metadata string is kept for backward-compatible display text, but the
// structured fields callers actually branch on (SourceURL, IsPrimary) are
// explicit columns rather than embedded tokens.
type Fragment struct {
	ID              string       `json:"fragment_id"`
	PageID          string       `json:"page_id"`
	FragmentType    FragmentType `json:"fragment_type"`
	Text            string       `json:"text"`
	TextHash        string       `json:"text_hash"`
	HeadingContext  string       `json:"heading_context,omitempty"`
	SourceURL       string       `json:"source_url,omitempty"`
	IsPrimary       bool         `json:"is_primary"`
	RelevanceReason string       `json:"relevance_reason,omitempty"`
}
