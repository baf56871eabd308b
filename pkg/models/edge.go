package models

// EdgeEndpointType is the kind of node an edge's source or target refers to.
type EdgeEndpointType string

// Endpoint types.
const (
	EdgeEndpointFragment EdgeEndpointType = "fragment"
	EdgeEndpointClaim    EdgeEndpointType = "claim"
	EdgeEndpointPage     EdgeEndpointType = "page"
)

// EdgeRelation is the typed relation an Edge asserts between its endpoints.
type EdgeRelation string

// Edge relations.
const (
	EdgeRelationSupports EdgeRelation = "supports"
	EdgeRelationRefutes  EdgeRelation = "refutes"
	EdgeRelationNeutral  EdgeRelation = "neutral"
	EdgeRelationCites    EdgeRelation = "cites"
)

// Edge is a typed, directed, typed-endpoint relation in the evidence graph.
//
// Invariants (enforced by the Store at commit): (fragment->claim) edges
// always carry relation in {supports, refutes, neutral} and a non-nil
// NLIEdgeConfidence; (page->page) edges carry relation=cites; no self-loops;
// the tuple (source_type, source_id, target_type, target_id, relation) is
// unique.
type Edge struct {
	ID                   string           `json:"edge_id"`
	TaskID               string           `json:"task_id"`
	SourceType           EdgeEndpointType `json:"source_type"`
	SourceID             string           `json:"source_id"`
	TargetType           EdgeEndpointType `json:"target_type"`
	TargetID             string           `json:"target_id"`
	Relation             EdgeRelation     `json:"relation"`
	NLIEdgeConfidence    float64          `json:"nli_edge_confidence"`
	IsAcademic           bool             `json:"is_academic"`
	SourceDomainCategory DomainCategory   `json:"source_domain_category,omitempty"`
	TargetDomainCategory DomainCategory   `json:"target_domain_category,omitempty"`
}
