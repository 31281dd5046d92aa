package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

// CreateProblem creates a :Problem node (the ProblemConcept label),
// failing with Duplicate on id collision.
func (s *Store) CreateProblem(ctx context.Context, c models.ProblemConcept) error {
	props, err := problemProps(c)
	if err != nil {
		return err
	}
	records, err := s.run(ctx, `
		OPTIONAL MATCH (existing:Problem {id: $id})
		WITH existing WHERE existing IS NULL
		CREATE (p:Problem {id: $id})
		SET p += $props
		RETURN p.id AS id
	`, map[string]any{"id": c.ID, "props": props})
	if err != nil {
		return agkerrors.Transient(err, "create problem")
	}
	if len(records) == 0 {
		return agkerrors.Duplicate(fmt.Sprintf("problem %s already exists", c.ID))
	}
	return nil
}

// GetProblem fetches a :Problem node by id, failing with NotFound.
func (s *Store) GetProblem(ctx context.Context, id string) (*models.ProblemConcept, error) {
	records, err := s.runRead(ctx, `MATCH (p:Problem {id: $id}) RETURN p`, map[string]any{"id": id})
	if err != nil {
		return nil, agkerrors.Transient(err, "get problem")
	}
	if len(records) == 0 {
		return nil, agkerrors.NotFoundf("problem %s not found", id)
	}
	return parseProblem(records[0]["p"])
}

// UpdateProblem writes every mutable field and bumps version/updated_at.
func (s *Store) UpdateProblem(ctx context.Context, c models.ProblemConcept) error {
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	props, err := problemProps(c)
	if err != nil {
		return err
	}
	records, err := s.run(ctx, `
		MATCH (p:Problem {id: $id}) SET p += $props RETURN p.id AS id
	`, map[string]any{"id": c.ID, "props": props})
	if err != nil {
		return agkerrors.Transient(err, "update problem")
	}
	if len(records) == 0 {
		return agkerrors.NotFoundf("problem %s not found", c.ID)
	}
	return nil
}

// DeleteProblem soft-deletes by setting status to deprecated; hard
// deletion is not exposed.
func (s *Store) DeleteProblem(ctx context.Context, id string) error {
	records, err := s.run(ctx, `
		MATCH (p:Problem {id: $id}) SET p.status = $status, p.updated_at = $now RETURN p.id AS id
	`, map[string]any{"id": id, "status": string(models.ConceptDeprecated), "now": time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return agkerrors.Transient(err, "delete problem")
	}
	if len(records) == 0 {
		return agkerrors.NotFoundf("problem %s not found", id)
	}
	return nil
}

// CreatePaper creates a :Paper node keyed by DOI.
func (s *Store) CreatePaper(ctx context.Context, p *models.NormalizedPaper) error {
	props := paperProps(p)
	records, err := s.run(ctx, `
		MERGE (n:Paper {doi: $doi})
		ON CREATE SET n += $props, n.created = true
		RETURN n.created AS created
	`, map[string]any{"doi": p.DOI, "props": props})
	if err != nil {
		return agkerrors.Transient(err, "create paper")
	}
	if len(records) == 0 {
		return agkerrors.Duplicate(fmt.Sprintf("paper %s already exists", p.DOI))
	}
	return nil
}

// GetPaper fetches a :Paper node by DOI.
func (s *Store) GetPaper(ctx context.Context, doi string) (*models.NormalizedPaper, error) {
	records, err := s.runRead(ctx, `MATCH (n:Paper {doi: $doi}) RETURN n`, map[string]any{"doi": doi})
	if err != nil {
		return nil, agkerrors.Transient(err, "get paper")
	}
	if len(records) == 0 {
		return nil, agkerrors.NotFoundf("paper %s not found", doi)
	}
	return parsePaper(records[0]["n"])
}

// CreateAuthor creates an :Author node and links it to paperDOI via
// AUTHORED_BY, deduplicating by external id when one is present so
// the same person isn't recreated across papers.
func (s *Store) CreateAuthor(ctx context.Context, a models.NormalizedAuthor, paperDOI string) (string, error) {
	for idType, idValue := range a.ExternalIDs {
		existingID, err := s.FindAuthorByExternalID(ctx, idType, idValue)
		if err == nil {
			if linkErr := s.linkAuthorToPaper(ctx, existingID, paperDOI, a.AuthorPosition); linkErr != nil {
				return "", linkErr
			}
			return existingID, nil
		}
		if !agkerrors.Is(err, agkerrors.KindNotFound) {
			return "", err
		}
	}

	id := fmt.Sprintf("author:%s:%d", paperDOI, a.AuthorPosition)
	externalIDsJSON, err := json.Marshal(a.ExternalIDs)
	if err != nil {
		return "", agkerrors.Pipeline(err, "marshal author external ids")
	}
	props := map[string]any{
		"id": id, "name": a.Name, "external_ids": string(externalIDsJSON),
		"affiliations": a.Affiliations,
	}
	if _, err := s.run(ctx, `MERGE (au:Author {id: $id}) ON CREATE SET au += $props`, map[string]any{"id": id, "props": props}); err != nil {
		return "", agkerrors.Transient(err, "create author")
	}
	if err := s.linkAuthorToPaper(ctx, id, paperDOI, a.AuthorPosition); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) linkAuthorToPaper(ctx context.Context, authorID, paperDOI string, position int) error {
	_, err := s.run(ctx, `
		MATCH (au:Author {id: $author_id}), (p:Paper {doi: $doi})
		MERGE (au)-[r:AUTHORED_BY]->(p)
		SET r.position = $position
	`, map[string]any{"author_id": authorID, "doi": paperDOI, "position": position})
	if err != nil {
		return agkerrors.Transient(err, "link author to paper")
	}
	return nil
}

// FindAuthorByExternalID looks an author up by one external id
// (e.g. "semantic_scholar" -> "12345"), fixing the original's stub
// that always created a new Author per paper (Open Question 3).
func (s *Store) FindAuthorByExternalID(ctx context.Context, idType, idValue string) (string, error) {
	records, err := s.runRead(ctx, `
		MATCH (au:Author)
		WHERE au.external_ids CONTAINS $needle
		RETURN au.id AS id, au.external_ids AS external_ids
	`, map[string]any{"needle": fmt.Sprintf("%q:%q", idType, idValue)})
	if err != nil {
		return "", agkerrors.Transient(err, "find author by external id")
	}
	for _, r := range records {
		var ids map[string]string
		if err := json.Unmarshal([]byte(r["external_ids"].(string)), &ids); err != nil {
			continue
		}
		if ids[idType] == idValue {
			return r["id"].(string), nil
		}
	}
	return "", agkerrors.NotFoundf("author with %s=%s not found", idType, idValue)
}

// CreateMention creates a :ProblemMention node and links it to its
// source paper via EXTRACTED_FROM.
func (s *Store) CreateMention(ctx context.Context, m models.ProblemMention) error {
	props, err := mentionProps(m)
	if err != nil {
		return err
	}
	records, err := s.run(ctx, `
		MERGE (m:ProblemMention {id: $id})
		ON CREATE SET m += $props, m.created = true
		WITH m
		MATCH (p:Paper {doi: $doi})
		MERGE (m)-[:EXTRACTED_FROM]->(p)
		RETURN m.created AS created
	`, map[string]any{"id": m.ID, "doi": m.PaperDOI, "props": props})
	if err != nil {
		return agkerrors.Transient(err, "create mention")
	}
	if len(records) == 0 {
		return agkerrors.Duplicate(fmt.Sprintf("mention %s already exists", m.ID))
	}
	return nil
}

// GetMention fetches a :ProblemMention node by id.
func (s *Store) GetMention(ctx context.Context, id string) (*models.ProblemMention, error) {
	records, err := s.runRead(ctx, `MATCH (m:ProblemMention {id: $id}) RETURN m`, map[string]any{"id": id})
	if err != nil {
		return nil, agkerrors.Transient(err, "get mention")
	}
	if len(records) == 0 {
		return nil, agkerrors.NotFoundf("mention %s not found", id)
	}
	return parseMention(records[0]["m"])
}

// VectorCandidate is one hit from VectorSearchConcepts.
type VectorCandidate struct {
	ConceptID    string
	Statement    string
	Domain       string
	MentionCount int
	Similarity   float64
}

// VectorSearchConcepts issues a vector-nearest-neighbor query over
// ProblemConcept.embedding.
func (s *Store) VectorSearchConcepts(ctx context.Context, embedding []float32, topK int) ([]VectorCandidate, error) {
	records, err := s.runRead(ctx, `
		CALL db.index.vector.queryNodes('problem_concept_embedding', $top_k, $embedding)
		YIELD node, score
		RETURN node.id AS concept_id, node.canonical_statement AS statement,
			node.domain AS domain, node.mention_count AS mention_count, score AS similarity
	`, map[string]any{"embedding": toFloat64s(embedding), "top_k": topK})
	if err != nil {
		return nil, agkerrors.Matcher(err, "vector index unavailable")
	}

	out := make([]VectorCandidate, 0, len(records))
	for _, r := range records {
		out = append(out, VectorCandidate{
			ConceptID:    asString(r["concept_id"]),
			Statement:    asString(r["statement"]),
			Domain:       asString(r["domain"]),
			MentionCount: int(asInt64(r["mention_count"])),
			Similarity:   asFloat64(r["similarity"]),
		})
	}
	return out, nil
}

// CitationPathExists reports whether a citation path exists between
// the paper identified by doi and any paper containing a mention of
// conceptID. Used to compute the citation-proximity boost in concept
// matching.
func (s *Store) CitationPathExists(ctx context.Context, doi, conceptID string) (bool, error) {
	records, err := s.runRead(ctx, `
		MATCH (origin:Paper {doi: $doi})
		MATCH (:Problem {id: $concept_id})<-[:INSTANCE_OF]-(m2:ProblemMention)-[:EXTRACTED_FROM]->(target:Paper)
		MATCH path = (origin)-[:CITES*1..3]-(target)
		RETURN count(path) > 0 AS exists
		LIMIT 1
	`, map[string]any{"doi": doi, "concept_id": conceptID})
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}
	exists, _ := records[0]["exists"].(bool)
	return exists, nil
}

// StructuredFilter narrows StructuredSearchConcepts by concept and
// source-paper attributes.
type StructuredFilter struct {
	Domain      string
	Status      models.ConceptStatus
	HasDatasets bool
	YearFrom    int
	YearTo      int
}

// StructuredSearchConcepts returns concepts matching filter, joining
// through each concept's mentions to their source papers for the
// year range.
func (s *Store) StructuredSearchConcepts(ctx context.Context, filter StructuredFilter, topK int) ([]*models.ProblemConcept, error) {
	var clauses []string
	params := map[string]any{"top_k": topK}

	if filter.Domain != "" {
		clauses = append(clauses, "p.domain = $domain")
		params["domain"] = filter.Domain
	}
	if filter.Status != "" {
		clauses = append(clauses, "p.status = $status")
		params["status"] = string(filter.Status)
	}
	if filter.HasDatasets {
		clauses = append(clauses, "p.datasets <> '[]' AND p.datasets <> 'null'")
	}

	yearJoin := ""
	if filter.YearFrom != 0 || filter.YearTo != 0 {
		yearJoin = `MATCH (:ProblemMention)-[:INSTANCE_OF]->(p)
			MATCH (m3:ProblemMention)-[:INSTANCE_OF]->(p)
			MATCH (m3)-[:EXTRACTED_FROM]->(src:Paper)`
		if filter.YearFrom != 0 {
			clauses = append(clauses, "src.year >= $year_from")
			params["year_from"] = filter.YearFrom
		}
		if filter.YearTo != 0 {
			clauses = append(clauses, "src.year <= $year_to")
			params["year_to"] = filter.YearTo
		}
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + joinClauses(clauses)
	}

	query := fmt.Sprintf(`
		MATCH (p:Problem)
		%s
		%s
		RETURN DISTINCT p
		ORDER BY p.mention_count DESC
		LIMIT $top_k
	`, yearJoin, where)

	records, err := s.runRead(ctx, query, params)
	if err != nil {
		return nil, agkerrors.Transient(err, "structured search")
	}

	out := make([]*models.ProblemConcept, 0, len(records))
	for _, r := range records {
		c, err := parseProblem(r["p"])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// AutoLinkHighConfidence performs the transactional high-confidence
// link: merges the INSTANCE_OF edge and updates both the mention and
// the concept in one write transaction. Any failure aborts the whole
// transaction; this method never catches.
func (s *Store) AutoLinkHighConfidence(ctx context.Context, mentionID, conceptID string, score float64, traceID string) error {
	_, err := s.withWriteTransaction(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		result, err := tx.Run(ctx, `
			MATCH (m:ProblemMention {id: $mention_id}), (c:Problem {id: $concept_id})
			MERGE (m)-[r:INSTANCE_OF]->(c)
			SET r.confidence = $score, r.match_method = 'auto', r.matched_at = $now,
				r.matched_by = 'auto_linker', r.trace_id = $trace_id
			SET m.concept_id = $concept_id, m.match_confidence = 'high', m.match_score = $score,
				m.match_method = 'auto', m.review_status = 'approved', m.updated_at = $now
			SET c.mention_count = c.mention_count + 1, c.updated_at = $now
			RETURN m.id AS id
		`, map[string]any{
			"mention_id": mentionID, "concept_id": conceptID, "score": score,
			"trace_id": traceID, "now": now,
		})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("mention %s or concept %s not found", mentionID, conceptID)
		}
		return nil, nil
	})
	if err != nil {
		return agkerrors.AutoLinker(err, "auto-link transaction failed")
	}
	return nil
}

// CreateConceptWithMention creates the concept node and its
// INSTANCE_OF edge to mentionID in one transaction.
func (s *Store) CreateConceptWithMention(ctx context.Context, c models.ProblemConcept, mentionID string) error {
	props, err := problemProps(c)
	if err != nil {
		return err
	}
	_, txErr := s.withWriteTransaction(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (p:Problem {id: $id})
			ON CREATE SET p += $props
			WITH p
			MATCH (m:ProblemMention {id: $mention_id})
			MERGE (m)-[r:INSTANCE_OF]->(p)
			SET r.confidence = 1.0, r.match_method = 'auto'
			SET m.concept_id = $id
			RETURN p.id AS id
		`, map[string]any{"id": c.ID, "props": props, "mention_id": mentionID})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("mention %s not found", mentionID)
		}
		return nil, nil
	})
	if txErr != nil {
		return agkerrors.AutoLinker(txErr, "create-concept transaction failed")
	}
	return nil
}

func toFloat64s(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func confidentFieldsJSON(fields []models.ConfidentField) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", agkerrors.Pipeline(err, "marshal confident fields")
	}
	return string(b), nil
}

func problemProps(c models.ProblemConcept) (map[string]any, error) {
	assumptions, err := confidentFieldsJSON(c.Assumptions)
	if err != nil {
		return nil, err
	}
	constraints, err := confidentFieldsJSON(c.Constraints)
	if err != nil {
		return nil, err
	}
	datasets, err := confidentFieldsJSON(c.Datasets)
	if err != nil {
		return nil, err
	}
	metrics, err := confidentFieldsJSON(c.Metrics)
	if err != nil {
		return nil, err
	}
	verifiedBaselines, err := confidentFieldsJSON(c.VerifiedBaselines)
	if err != nil {
		return nil, err
	}
	claimedBaselines, err := confidentFieldsJSON(c.ClaimedBaselines)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id": c.ID, "canonical_statement": c.CanonicalStatement, "domain": c.Domain,
		"status": string(c.Status), "assumptions": assumptions, "constraints": constraints,
		"datasets": datasets, "metrics": metrics, "verified_baselines": verifiedBaselines,
		"claimed_baselines": claimedBaselines, "synthesis_method": string(c.SynthesisMethod),
		"mention_count": c.MentionCount, "paper_count": c.PaperCount,
		"embedding": toFloat64s(c.Embedding), "version": c.Version,
		"created_at": c.CreatedAt.Format(time.RFC3339), "updated_at": c.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func parseProblem(v any) (*models.ProblemConcept, error) {
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, agkerrors.Pipeline(fmt.Errorf("unexpected node type %T", v), "parse problem node")
	}
	props := node.Props
	var c models.ProblemConcept
	c.ID = asString(props["id"])
	c.CanonicalStatement = asString(props["canonical_statement"])
	c.Domain = asString(props["domain"])
	c.Status = models.ConceptStatus(asString(props["status"]))
	c.SynthesisMethod = models.SynthesisMethod(asString(props["synthesis_method"]))
	c.MentionCount = int(asInt64(props["mention_count"]))
	c.PaperCount = int(asInt64(props["paper_count"]))
	c.Version = int(asInt64(props["version"]))
	_ = json.Unmarshal([]byte(asString(props["assumptions"])), &c.Assumptions)
	_ = json.Unmarshal([]byte(asString(props["constraints"])), &c.Constraints)
	_ = json.Unmarshal([]byte(asString(props["datasets"])), &c.Datasets)
	_ = json.Unmarshal([]byte(asString(props["metrics"])), &c.Metrics)
	_ = json.Unmarshal([]byte(asString(props["verified_baselines"])), &c.VerifiedBaselines)
	_ = json.Unmarshal([]byte(asString(props["claimed_baselines"])), &c.ClaimedBaselines)
	c.CreatedAt, _ = time.Parse(time.RFC3339, asString(props["created_at"]))
	c.UpdatedAt, _ = time.Parse(time.RFC3339, asString(props["updated_at"]))
	return &c, nil
}

func paperProps(p *models.NormalizedPaper) map[string]any {
	externalIDsJSON, _ := json.Marshal(p.ExternalIDs)
	return map[string]any{
		"doi": p.DOI, "title": p.Title, "source": string(p.Source),
		"external_ids": string(externalIDsJSON), "abstract": p.Abstract, "year": p.Year,
		"publication_date": p.PublicationDate, "venue": p.Venue,
		"citation_count": p.CitationCount, "reference_count": p.ReferenceCount,
		"is_open_access": p.IsOpenAccess, "pdf_url": p.PDFURL,
	}
}

func parsePaper(v any) (*models.NormalizedPaper, error) {
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, agkerrors.Pipeline(fmt.Errorf("unexpected node type %T", v), "parse paper node")
	}
	props := node.Props
	p := models.NewNormalizedPaper()
	p.DOI = asString(props["doi"])
	p.Title = asString(props["title"])
	p.Source = models.SourceType(asString(props["source"]))
	p.Abstract = asString(props["abstract"])
	p.Year = int(asInt64(props["year"]))
	p.PublicationDate = asString(props["publication_date"])
	p.Venue = asString(props["venue"])
	p.CitationCount = int(asInt64(props["citation_count"]))
	p.ReferenceCount = int(asInt64(props["reference_count"]))
	p.IsOpenAccess, _ = props["is_open_access"].(bool)
	p.PDFURL = asString(props["pdf_url"])
	_ = json.Unmarshal([]byte(asString(props["external_ids"])), &p.ExternalIDs)
	return p, nil
}

func mentionProps(m models.ProblemMention) (map[string]any, error) {
	assumptions, err := confidentFieldsJSON(m.Assumptions)
	if err != nil {
		return nil, err
	}
	constraints, err := confidentFieldsJSON(m.Constraints)
	if err != nil {
		return nil, err
	}
	datasets, err := confidentFieldsJSON(m.Datasets)
	if err != nil {
		return nil, err
	}
	metrics, err := confidentFieldsJSON(m.Metrics)
	if err != nil {
		return nil, err
	}
	baselines, err := confidentFieldsJSON(m.Baselines)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id": m.ID, "statement": m.Statement, "paper_doi": m.PaperDOI,
		"section": string(m.Section), "domain": m.Domain,
		"assumptions": assumptions, "constraints": constraints, "datasets": datasets,
		"metrics": metrics, "baselines": baselines, "quoted_text": m.QuotedText,
		"embedding": toFloat64s(m.Embedding), "concept_id": m.ConceptID,
		"match_confidence": string(m.MatchConfidence), "match_score": m.MatchScore,
		"match_method": m.MatchMethod, "review_status": string(m.ReviewStatus),
		"created_at": m.CreatedAt.Format(time.RFC3339), "updated_at": m.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func parseMention(v any) (*models.ProblemMention, error) {
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, agkerrors.Pipeline(fmt.Errorf("unexpected node type %T", v), "parse mention node")
	}
	props := node.Props
	var m models.ProblemMention
	m.ID = asString(props["id"])
	m.Statement = asString(props["statement"])
	m.PaperDOI = asString(props["paper_doi"])
	m.Section = models.SectionType(asString(props["section"]))
	m.Domain = asString(props["domain"])
	m.QuotedText = asString(props["quoted_text"])
	m.ConceptID = asString(props["concept_id"])
	m.MatchConfidence = models.MatchConfidence(asString(props["match_confidence"]))
	m.MatchScore = asFloat64(props["match_score"])
	m.MatchMethod = asString(props["match_method"])
	m.ReviewStatus = models.ReviewStatus(asString(props["review_status"]))
	_ = json.Unmarshal([]byte(asString(props["assumptions"])), &m.Assumptions)
	_ = json.Unmarshal([]byte(asString(props["constraints"])), &m.Constraints)
	_ = json.Unmarshal([]byte(asString(props["datasets"])), &m.Datasets)
	_ = json.Unmarshal([]byte(asString(props["metrics"])), &m.Metrics)
	_ = json.Unmarshal([]byte(asString(props["baselines"])), &m.Baselines)
	m.CreatedAt, _ = time.Parse(time.RFC3339, asString(props["created_at"]))
	m.UpdatedAt, _ = time.Parse(time.RFC3339, asString(props["updated_at"]))
	return &m, nil
}
