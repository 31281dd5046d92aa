// Command agentic-kg-ingest wires acquisition, extraction, and
// canonicalization end to end: given a batch of paper identifiers, it
// fetches each paper's PDF, runs the extraction pipeline, and
// canonicalizes every extracted problem into the graph store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-kg/knowledge-core/internal/acquisition"
	"github.com/agentic-kg/knowledge-core/internal/batch"
	"github.com/agentic-kg/knowledge-core/internal/batchqueue"
	"github.com/agentic-kg/knowledge-core/internal/breaker"
	"github.com/agentic-kg/knowledge-core/internal/concept"
	"github.com/agentic-kg/knowledge-core/internal/config"
	"github.com/agentic-kg/knowledge-core/internal/embedding"
	"github.com/agentic-kg/knowledge-core/internal/extract"
	"github.com/agentic-kg/knowledge-core/internal/graph"
	"github.com/agentic-kg/knowledge-core/internal/integrate"
	"github.com/agentic-kg/knowledge-core/internal/link"
	"github.com/agentic-kg/knowledge-core/internal/llm"
	"github.com/agentic-kg/knowledge-core/internal/logging"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/pdfcache"
	"github.com/agentic-kg/knowledge-core/internal/pipeline"
	"github.com/agentic-kg/knowledge-core/internal/ratelimit"
	"github.com/agentic-kg/knowledge-core/internal/relation"
	"github.com/agentic-kg/knowledge-core/internal/respcache"
	"github.com/agentic-kg/knowledge-core/internal/sources"
	"github.com/agentic-kg/knowledge-core/internal/sources/arxiv"
	"github.com/agentic-kg/knowledge-core/internal/sources/openalex"
	"github.com/agentic-kg/knowledge-core/internal/sources/semanticscholar"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentic-kg-ingest",
	Short: "Ingest papers: acquire, extract, and canonicalize research problems",
	Long: `agentic-kg-ingest acquires a batch of papers by identifier (DOI, arXiv id,
or URL), runs the four-stage extraction pipeline over each PDF, and
canonicalizes every extracted problem into the Neo4j knowledge graph.

Input is one identifier per line on stdin, or --input-file.`,
	RunE: runIngest,
}

var (
	inputFile     string
	batchID       string
	configPath    string
	maxConcurrent int
)

func init() {
	rootCmd.Flags().StringVar(&inputFile, "input-file", "", "file of newline-separated identifiers (default: stdin)")
	rootCmd.Flags().StringVar(&batchID, "batch-id", "", "resume this batch id instead of starting a new one")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "override batch.max_concurrent")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	startTime := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if maxConcurrent > 0 {
		cfg.Batch.MaxConcurrent = maxConcurrent
	}

	logging.Initialize(logging.DefaultConfig(false))
	log := logging.For("ingest")

	ids, err := readIdentifiers(inputFile)
	if err != nil {
		return fmt.Errorf("read identifiers: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no identifiers provided")
	}
	fmt.Printf("loaded %d identifiers\n", len(ids))

	acq, err := buildAcquisitionLayer(cfg)
	if err != nil {
		return fmt.Errorf("build acquisition layer: %w", err)
	}

	llmExtractor := llm.NewOpenAIExtractor(cfg.LLM.APIKey, cfg.LLM.Model)
	embedder, err := embedding.NewGeminiProvider(ctx, cfg.LLM.EmbeddingKey, "text-embedding-004")
	if err != nil {
		return fmt.Errorf("build embedding provider: %w", err)
	}

	extractCfg := extract.DefaultConfig()
	extractCfg.MinConfidence = cfg.Matching.MinConfidence
	extractCfg.MaxProblemsPerSection = cfg.Matching.MaxProblemsPerSection
	extractCfg.MaxSectionPriority = cfg.Matching.MaxSectionPriority

	relationCfg := relation.DefaultConfig()
	relationCfg.SimilarityThreshold = cfg.Matching.RelationSimilarity
	relationCfg.MinConfidence = cfg.Matching.RelationMinConfidence

	orchestrator := pipeline.New(
		extract.New(llmExtractor, extractCfg),
		relation.New(llmExtractor, relationCfg),
		pipeline.DefaultConfig(),
	)

	store, err := graph.NewStoreWithDatabase(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		return fmt.Errorf("connect to graph store: %w", err)
	}
	defer store.Close(ctx)

	matcher := concept.New(store, concept.Config{TopK: cfg.Matching.TopK})
	linker := link.New(matcher, embedder, store)
	integrator := integrate.New(store, embedder, linker)

	queue, err := batchqueue.Open(cfg.Batch.DBPath, nil)
	if err != nil {
		return fmt.Errorf("open batch queue: %w", err)
	}
	defer queue.Close()

	inputs := make([]batch.PaperInput, len(ids))
	for i, id := range ids {
		inputs[i] = batch.PaperInput{SourceKind: sourceKindFor(id), Source: id}
	}

	processor := batch.New(queue, fetcher(acq, orchestrator, store, integrator, log), batch.Config{
		MaxConcurrent: cfg.Batch.MaxConcurrent,
		MaxAttempts:   cfg.Batch.MaxRetries + 1,
		RetryDelay:    cfg.Batch.RetryDelay,
	})
	processor.OnProgress = func(p models.BatchProgress) {
		fmt.Printf("progress: %d/%d completed, %d failed, %d pending\n", p.Completed, p.Total, p.Failed, p.Pending)
	}

	var result *batch.BatchResult
	if batchID != "" {
		result, err = processor.ResumeBatch(ctx, batchID, inputs)
	} else {
		id := fmt.Sprintf("batch-%d", time.Now().UTC().UnixNano())
		result, err = processor.ProcessBatch(ctx, id, inputs)
	}
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	fmt.Printf("\ndone in %v: %d completed, %d failed, %d skipped (batch_id=%s)\n",
		time.Since(startTime), result.Completed, result.Failed, result.Skipped, result.BatchID)
	return nil
}

// fetcher builds the batch.Fetcher closure: acquire metadata and PDF
// bytes, run the extraction pipeline, then integrate every problem it
// finds into the graph.
func fetcher(acq *acquisition.Layer, orchestrator *pipeline.Orchestrator, store *graph.Store, integrator *integrate.Integrator, log *logging.Logger) batch.Fetcher {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetchURL := func(ctx context.Context, url string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}

	return func(ctx context.Context, input batch.PaperInput) (*pipeline.Result, error) {
		meta, err := acq.GetMetadata(ctx, input.Source)
		if err != nil {
			return nil, err
		}

		download := acq.GetPDF(ctx, input.Source, fetchURL)
		if download.Outcome != acquisition.DownloadCompleted {
			return nil, fmt.Errorf("pdf unavailable for %s: %s", input.Source, download.Reason)
		}
		data, err := os.ReadFile(download.Path)
		if err != nil {
			return nil, err
		}

		res := orchestrator.ProcessPDFBytes(ctx, data, extract.PaperMeta{Title: meta.Title, DOI: meta.DOI})

		if err := store.CreatePaper(ctx, meta); err != nil {
			return res, err
		}

		sessionTraceID := fmt.Sprintf("ingest-%d", time.Now().UTC().UnixNano())
		outcome := integrator.Integrate(ctx, res.Problems, meta.DOI, sessionTraceID)
		log.Info("integrated paper", "doi", meta.DOI, "created", outcome.MentionsCreated,
			"linked", outcome.MentionsLinked, "new_concepts", outcome.MentionsNewConcepts, "errors", len(outcome.Errors))

		return res, nil
	}
}

func buildAcquisitionLayer(cfg *config.Config) (*acquisition.Layer, error) {
	cache := respcache.New(map[respcache.Namespace]time.Duration{
		respcache.NamespacePaper:  cfg.Cache.PaperTTL,
		respcache.NamespaceAuthor: cfg.Cache.AuthorTTL,
		respcache.NamespaceSearch: cfg.Cache.SearchTTL,
	})
	pdfCache, err := pdfcache.New(cfg.Cache.Directory, cfg.Cache.MaxPDFBytes)
	if err != nil {
		return nil, err
	}

	s2 := semanticscholar.New(sourceContext("semantic_scholar", cache, cfg.Sources.SemanticScholar), cfg.Sources.SemanticScholar.BaseURL, nil)
	ax := arxiv.New(sourceContext("arxiv", cache, cfg.Sources.Arxiv), cfg.Sources.Arxiv.BaseURL, nil)
	oa := openalex.New(sourceContext("openalex", cache, cfg.Sources.OpenAlex), cfg.Sources.OpenAlex.BaseURL, cfg.Sources.OpenAlexMailto, nil)

	return acquisition.New(s2, ax, oa, pdfCache), nil
}

func sourceContext(name string, cache *respcache.Cache, sc config.SourceConfig) *sources.Context {
	return &sources.Context{
		Name:       name,
		Cache:      cache,
		Limiter:    ratelimit.New(sc.RateLimitPerSec, sc.Burst),
		Breaker:    breaker.New(name, sc.FailureThreshold, sc.BreakerWindow, sc.BreakerCooldown),
		MaxRetries: sc.MaxRetries,
		RetryBase:  sc.RetryBaseDelay,
	}
}

func sourceKindFor(id string) models.SourceKind {
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return models.SourceKindURL
	}
	return models.SourceKindDOI
}

func readIdentifiers(path string) ([]string, error) {
	var r io.Reader
	if path == "" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}
