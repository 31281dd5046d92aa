package models

import "time"

// ReviewStatus tracks where a mention stands in the (external) human
// review workflow.
type ReviewStatus string

const (
	ReviewPending        ReviewStatus = "pending"
	ReviewApproved       ReviewStatus = "approved"
	ReviewRejected       ReviewStatus = "rejected"
	ReviewNeedsConsensus ReviewStatus = "needs_consensus"
	ReviewBlacklisted    ReviewStatus = "blacklisted"
)

// MatchConfidence is the confidence band assigned by the concept
// matcher.
type MatchConfidence string

const (
	ConfidenceHigh     MatchConfidence = "high"
	ConfidenceMedium   MatchConfidence = "medium"
	ConfidenceLow      MatchConfidence = "low"
	ConfidenceRejected MatchConfidence = "rejected"
)

// ProblemMention is a per-paper instance of an extracted research
// problem.
type ProblemMention struct {
	ID          string
	Statement   string
	PaperDOI    string
	Section     SectionType
	Domain      string
	Assumptions []ConfidentField
	Constraints []ConfidentField
	Datasets    []ConfidentField
	Metrics     []ConfidentField
	Baselines   []ConfidentField
	QuotedText  string
	Embedding   []float32

	ConceptID       string
	MatchConfidence MatchConfidence
	MatchScore      float64
	MatchMethod     string
	ReviewStatus    ReviewStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConceptStatus tracks the canonicalization lifecycle of a concept.
type ConceptStatus string

const (
	ConceptOpen       ConceptStatus = "open"
	ConceptInProgress ConceptStatus = "in_progress"
	ConceptResolved   ConceptStatus = "resolved"
	ConceptDeprecated ConceptStatus = "deprecated"
)

// SynthesisMethod records how a concept's canonical statement was
// produced.
type SynthesisMethod string

const (
	SynthesisFirstMention  SynthesisMethod = "first_mention"
	SynthesisLLMSynthesis  SynthesisMethod = "llm_synthesis"
	SynthesisHumanEdit     SynthesisMethod = "human_edit"
)

// ProblemConcept is the canonical node that one or more mentions link
// to via INSTANCE_OF.
type ProblemConcept struct {
	ID                 string
	CanonicalStatement string
	Domain             string
	Status             ConceptStatus
	Assumptions        []ConfidentField
	Constraints        []ConfidentField
	Datasets           []ConfidentField
	Metrics            []ConfidentField
	VerifiedBaselines  []ConfidentField
	ClaimedBaselines   []ConfidentField
	SynthesisMethod    SynthesisMethod
	MentionCount       int
	PaperCount         int
	FirstMentionedYear *int
	LastMentionedYear  *int
	Embedding          []float32
	Version            int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InstanceOfEdge links a mention to the concept it was matched or
// newly created against.
type InstanceOfEdge struct {
	MentionID  string
	ConceptID  string
	Confidence float64
	MatchMethod string
	MatchedAt  time.Time
	MatchedBy  string
	TraceID    string
}
