package models

// ConfidentField pairs a nested extraction field with its own
// confidence: each assumption, constraint, dataset, metric, or
// baseline carries its own confidence independent of the parent
// statement.
type ConfidentField struct {
	Value      string
	Confidence float64
}

// ExtractedProblem is one LLM-extracted research-problem statement
// from a single section.
type ExtractedProblem struct {
	Statement   string
	QuotedText  string
	Confidence  float64
	Domain      string
	Section     SectionType
	Assumptions []ConfidentField
	Constraints []ConfidentField
	Datasets    []ConfidentField
	Metrics     []ConfidentField
	Baselines   []ConfidentField
}

// Valid reports whether p satisfies the minimum-length invariants.
func (p ExtractedProblem) Valid() bool {
	return len(p.Statement) >= 20 && len(p.QuotedText) >= 1
}

// RelationType enumerates the typed problem-to-problem relations.
type RelationType string

const (
	RelationExtends      RelationType = "extends"
	RelationContradicts  RelationType = "contradicts"
	RelationDependsOn    RelationType = "depends_on"
	RelationReframes     RelationType = "reframes"
	RelationRelatedTo    RelationType = "related_to"
	RelationSupersedes   RelationType = "supersedes"
	RelationSpecializes  RelationType = "specializes"
	RelationGeneralizes  RelationType = "generalizes"
)

// ExtractionMethod records which signal produced a relation.
type ExtractionMethod string

const (
	MethodTextualCue         ExtractionMethod = "textual_cue"
	MethodSemanticSimilarity ExtractionMethod = "semantic_similarity"
	MethodLLM                ExtractionMethod = "llm"
)

// ExtractedRelation is a typed edge between two problem statements
// found within the same paper.
type ExtractedRelation struct {
	SourceProblemRef int
	TargetProblemRef int
	Type             RelationType
	Confidence       float64
	Evidence         string
	ExtractionMethod ExtractionMethod
}

// Valid reports whether r satisfies the minimum-evidence invariant.
func (r ExtractedRelation) Valid() bool {
	return len(r.Evidence) >= 10
}

// DedupKey identifies relations that collapse to the same edge:
// same source, target, and relation type.
func (r ExtractedRelation) DedupKey() [3]any {
	return [3]any{r.SourceProblemRef, r.TargetProblemRef, r.Type}
}
