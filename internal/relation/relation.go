// Package relation implements the relation extractor: textual-cue
// matching, Jaccard semantic similarity, and an optional LLM pass
// over a paper's extracted problems.
package relation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-kg/knowledge-core/internal/llm"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

// Config tunes the extractor's thresholds.
type Config struct {
	SimilarityThreshold float64
	MinConfidence       float64
	UseLLM              bool
}

// DefaultConfig returns the default similarity and confidence
// thresholds.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.7, MinConfidence: 0.5, UseLLM: false}
}

// cueCatalog maps each relation type to its surface cue phrases.
var cueCatalog = map[models.RelationType][]string{
	models.RelationExtends:     {"builds on", "extends", "improves upon", "extends the work of"},
	models.RelationContradicts: {"contradicts", "in contrast to", "disagrees with", "conflicts with"},
	models.RelationDependsOn:   {"depends on", "relies on", "requires", "is predicated on"},
	models.RelationReframes:    {"reframes", "recasts", "reformulates"},
	models.RelationSupersedes:  {"supersedes", "replaces", "obsoletes"},
	models.RelationSpecializes: {"specializes", "is a special case of"},
	models.RelationGeneralizes: {"generalizes", "broadens", "extends to the general case"},
}

const cueWindowChars = 100
const cueWordOverlapThreshold = 0.3
const textualCueConfidence = 0.6

// Extractor runs the relation extractor over a set of problems and
// their source text.
type Extractor struct {
	LLM    llm.Extractor
	Config Config
}

// New builds an Extractor. LLM may be nil if Config.UseLLM is false.
func New(extractor llm.Extractor, cfg Config) *Extractor {
	return &Extractor{LLM: extractor, Config: cfg}
}

// Extract finds relations among problems using the full text for
// cue/window matching and the problems' own statements for
// similarity, deduplicating the union and dropping anything below
// MinConfidence.
func (e *Extractor) Extract(ctx context.Context, text string, problems []models.ExtractedProblem) []models.ExtractedRelation {
	var all []models.ExtractedRelation
	all = append(all, textualCueRelations(text, problems)...)
	all = append(all, semanticSimilarityRelations(problems, e.Config.SimilarityThreshold)...)

	if e.Config.UseLLM && e.LLM != nil && len(problems) >= 2 {
		if llmRels, err := e.llmPass(ctx, problems); err == nil {
			all = append(all, llmRels...)
		}
	}

	deduped := dedup(all)

	out := make([]models.ExtractedRelation, 0, len(deduped))
	for _, r := range deduped {
		if r.Confidence >= e.Config.MinConfidence && r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

func textualCueRelations(text string, problems []models.ExtractedProblem) []models.ExtractedRelation {
	lower := strings.ToLower(text)
	var out []models.ExtractedRelation

	for relType, cues := range cueCatalog {
		for _, cue := range cues {
			idx := strings.Index(lower, cue)
			if idx == -1 {
				continue
			}
			start := idx - cueWindowChars
			if start < 0 {
				start = 0
			}
			end := idx + len(cue) + cueWindowChars
			if end > len(text) {
				end = len(text)
			}
			window := strings.ToLower(text[start:end])

			matched := matchProblemsToWindow(window, problems)
			if len(matched) < 2 {
				continue
			}
			out = append(out, models.ExtractedRelation{
				SourceProblemRef: matched[0],
				TargetProblemRef: matched[1],
				Type:             relType,
				Confidence:       textualCueConfidence,
				Evidence:         strings.TrimSpace(text[start:end]),
				ExtractionMethod: models.MethodTextualCue,
			})
		}
	}
	return out
}

func matchProblemsToWindow(window string, problems []models.ExtractedProblem) []int {
	windowWords := tokenSet(window)
	var matched []int
	for i, p := range problems {
		stmtWords := tokenSet(strings.ToLower(p.Statement))
		if len(stmtWords) == 0 {
			continue
		}
		overlap := 0
		for w := range stmtWords {
			if windowWords[w] {
				overlap++
			}
		}
		if float64(overlap)/float64(len(stmtWords)) >= cueWordOverlapThreshold {
			matched = append(matched, i)
		}
	}
	return matched
}

func tokenSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func semanticSimilarityRelations(problems []models.ExtractedProblem, threshold float64) []models.ExtractedRelation {
	var out []models.ExtractedRelation
	for i := 0; i < len(problems); i++ {
		for j := i + 1; j < len(problems); j++ {
			score := jaccard(tokenSet(strings.ToLower(problems[i].Statement)), tokenSet(strings.ToLower(problems[j].Statement)))
			if score >= threshold {
				out = append(out, models.ExtractedRelation{
					SourceProblemRef: i,
					TargetProblemRef: j,
					Type:             models.RelationRelatedTo,
					Confidence:       score,
					Evidence:         fmt.Sprintf("jaccard token similarity %.2f between problem %d and %d", score, i, j),
					ExtractionMethod: models.MethodSemanticSimilarity,
				})
			}
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

var llmSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"relations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"source_ordinal": {"type": "integer"},
					"target_ordinal": {"type": "integer"},
					"type": {"type": "string"},
					"confidence": {"type": "number"},
					"evidence": {"type": "string"}
				},
				"required": ["source_ordinal", "target_ordinal", "type", "confidence", "evidence"]
			}
		}
	},
	"required": ["relations"]
}`)

type llmRelation struct {
	SourceOrdinal int     `json:"source_ordinal"`
	TargetOrdinal int     `json:"target_ordinal"`
	Type          string  `json:"type"`
	Confidence    float64 `json:"confidence"`
	Evidence      string  `json:"evidence"`
}

type llmResponse struct {
	Relations []llmRelation `json:"relations"`
}

func (e *Extractor) llmPass(ctx context.Context, problems []models.ExtractedProblem) ([]models.ExtractedRelation, error) {
	var sb strings.Builder
	sb.WriteString("Given the following numbered research problems, identify typed relations between them:\n")
	for i, p := range problems {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Statement)
	}

	raw, _, err := e.LLM.Extract(ctx, sb.String(), llmSchema)
	if err != nil {
		return nil, err
	}
	var parsed llmResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	out := make([]models.ExtractedRelation, 0, len(parsed.Relations))
	for _, r := range parsed.Relations {
		srcIdx, tgtIdx := r.SourceOrdinal-1, r.TargetOrdinal-1
		if srcIdx < 0 || srcIdx >= len(problems) || tgtIdx < 0 || tgtIdx >= len(problems) {
			continue
		}
		out = append(out, models.ExtractedRelation{
			SourceProblemRef: srcIdx,
			TargetProblemRef: tgtIdx,
			Type:             models.RelationType(r.Type),
			Confidence:       r.Confidence,
			Evidence:         r.Evidence,
			ExtractionMethod: models.MethodLLM,
		})
	}
	return out, nil
}

// dedup collapses relations sharing (source, target, type), keeping
// the highest-confidence instance.
func dedup(relations []models.ExtractedRelation) []models.ExtractedRelation {
	best := make(map[[3]any]models.ExtractedRelation, len(relations))
	order := make([][3]any, 0, len(relations))
	for _, r := range relations {
		key := r.DedupKey()
		if existing, ok := best[key]; !ok || r.Confidence > existing.Confidence {
			if !ok {
				order = append(order, key)
			}
			best[key] = r
		}
	}
	out := make([]models.ExtractedRelation, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
