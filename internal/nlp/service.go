// Package nlp normalizes OCR element streams into the business record. One
// pass chunks the document, runs each chunk through the chat model, merges
// the partial extractions deterministically, overlays the high-fidelity OCR
// signals and maps the result into the business schema.
package nlp

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cario/title-extract/internal/chunk"
	"github.com/cario/title-extract/internal/extract"
	"github.com/cario/title-extract/internal/fusion"
	"github.com/cario/title-extract/internal/heuristic"
	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/prompt"
	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/schema"
	"github.com/cario/title-extract/pkg/chat"
)

// ServiceConfig tunes the normalization pass.
type ServiceConfig struct {
	Bucket            string
	Model             string
	MaxTokens         int64
	MaxChunkChars     int
	PromptKey         string
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryConfig
	Circuit           resilience.CircuitBreakerConfig
}

// Service runs the NLP phase for one document at a time.
type Service struct {
	store   objectstore.Store
	chat    chat.Client
	prompts *prompt.Loader
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	cfg     ServiceConfig
}

// NewService wires the normalization service. Chat calls are paced by a
// shared rate limiter and guarded by a circuit breaker.
func NewService(store objectstore.Store, chatClient chat.Client, prompts *prompt.Loader, cfg ServiceConfig) *Service {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = chunk.DefaultMaxChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Circuit.FailureThreshold <= 0 {
		cfg.Circuit = resilience.DefaultCircuitBreakerConfig()
	}
	return &Service{
		store:   store,
		chat:    chatClient,
		prompts: prompts,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: resilience.NewCircuitBreaker(cfg.Circuit),
		cfg:     cfg,
	}
}

// Result is the outcome of one normalization pass.
type Result struct {
	Business      map[string]any
	Output        model.NLPOutput
	Chunks        int
	ModelName     string
	PromptKey     string
	NormalizedKey string
	NormalizedURI string
	BusinessKey   string
	BusinessURI   string
	SchemaValid   bool
}

// Normalize loads the OCR elements at elementsKey, extracts the business
// record and, when outputKey is set, persists the normalized and business
// JSON artifacts next to it.
func (s *Service) Normalize(ctx context.Context, elementsKey, outputKey string, threshold float64) (*Result, error) {
	data, err := s.store.GetBytes(ctx, s.cfg.Bucket, elementsKey)
	if err != nil {
		return nil, eris.Wrap(err, "nlp: load elements")
	}
	var elements []model.Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, eris.Wrap(err, "nlp: decode elements")
	}

	zap.L().Info("nlp: elements loaded",
		zap.String("key", elementsKey),
		zap.Int("count", len(elements)),
		zap.Any("type_counts", typeCounts(elements)),
	)

	// Regex signals extracted up front: the skeleton backstops fusion, the
	// high-fidelity fields overwrite the model at the end.
	candidates := heuristic.PreParse(elements, threshold)
	delete(candidates, "raw_text")
	high := heuristic.HighFidelity(elements)

	chunks := chunk.Build(elements, s.cfg.MaxChunkChars)
	if len(chunks) == 0 {
		return nil, eris.New("nlp: document rendered no text")
	}

	system, err := s.systemPrompt(ctx)
	if err != nil {
		return nil, err
	}

	partials := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		partial, err := s.extractChunk(ctx, system, c)
		if err != nil {
			return nil, err
		}
		if partial != nil {
			partials = append(partials, partial)
		}
	}

	consolidated := fusion.Fuse(partials...)
	rawJSON, err := json.Marshal(consolidated)
	if err != nil {
		return nil, eris.Wrap(err, "nlp: encode consolidated output")
	}

	var out model.NLPOutput
	if err := json.Unmarshal(rawJSON, &out); err != nil {
		return nil, eris.Wrap(err, "nlp: consolidated output does not match shape")
	}
	out.SourceURI = objectstore.URI(s.cfg.Bucket, elementsKey)
	out.RawJSON = string(rawJSON)

	business := fusion.ToBusinessRecord(out)
	heuristic.Overlay(business, high)
	business = fusion.Fuse(business, candidates)
	valid := schema.ValidateWarn(business, elementsKey)

	result := &Result{
		Business:    business,
		Output:      out,
		Chunks:      len(chunks),
		ModelName:   s.cfg.Model,
		PromptKey:   s.cfg.PromptKey,
		SchemaValid: valid,
	}

	if strings.TrimSpace(outputKey) != "" {
		if err := s.saveArtifacts(ctx, result, rawJSON, outputKey); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// extractChunk sends one chunk through the model and parses the partial
// extraction. An unparseable reply degrades to a warning; the remaining
// chunks still contribute.
func (s *Service) extractChunk(ctx context.Context, system string, c chunk.Chunk) (map[string]any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nlp: rate limit wait")
	}

	req := chat.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System: []chat.SystemBlock{
			{Text: system, CacheControl: &chat.CacheControl{TTL: "5m"}},
		},
		Messages: []chat.Message{
			{Role: "user", Content: "Extract all title fields from this document text:\n\n" + c.Text},
		},
	}

	cfg := s.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("anthropic", "nlp chunk")
	}
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*chat.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*chat.MessageResponse, error) {
			return s.chat.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "nlp: extract chunk")
	}
	resp.Usage.LogCost(s.cfg.Model, "nlp")

	partial := extract.ObjectFromText(resp.Text())
	if partial == nil {
		zap.L().Warn("nlp: chunk produced no parseable JSON", zap.Int("chunk", c.Index))
	}
	return partial, nil
}

// systemPrompt assembles the extraction prompt: loaded template, its rules
// in stable order, then the response schema.
func (s *Service) systemPrompt(ctx context.Context) (string, error) {
	cfg, err := s.prompts.Load(ctx, s.cfg.Bucket, s.cfg.PromptKey)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(cfg.SystemTemplate))

	names := make([]string, 0, len(cfg.Rules))
	for name := range cfg.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString("\n- ")
		sb.WriteString(cfg.Rules[name])
	}

	schemaJSON, err := json.Marshal(ResponseSchema())
	if err != nil {
		return "", eris.Wrap(err, "nlp: encode response schema")
	}
	sb.WriteString("\n\nRespond with ONLY a JSON object matching this schema. Omit fields you cannot read:\n")
	sb.Write(schemaJSON)

	return sb.String(), nil
}

func (s *Service) saveArtifacts(ctx context.Context, result *Result, rawJSON []byte, outputKey string) error {
	if err := s.store.PutBytes(ctx, s.cfg.Bucket, outputKey, rawJSON, "application/json"); err != nil {
		return eris.Wrap(err, "nlp: store normalized output")
	}
	result.NormalizedKey = outputKey
	result.NormalizedURI = objectstore.URI(s.cfg.Bucket, outputKey)
	zap.L().Info("nlp: normalized output saved", zap.String("uri", result.NormalizedURI))

	businessJSON, err := json.MarshalIndent(result.Business, "", "  ")
	if err != nil {
		return eris.Wrap(err, "nlp: encode business record")
	}
	businessKey := strings.TrimSuffix(outputKey, ".json") + ".business.json"
	if err := s.store.PutBytes(ctx, s.cfg.Bucket, businessKey, businessJSON, "application/json"); err != nil {
		return eris.Wrap(err, "nlp: store business record")
	}
	result.BusinessKey = businessKey
	result.BusinessURI = objectstore.URI(s.cfg.Bucket, businessKey)
	zap.L().Info("nlp: business record saved", zap.String("uri", result.BusinessURI))
	return nil
}

func typeCounts(elements []model.Element) map[string]int {
	counts := make(map[string]int)
	for _, e := range elements {
		counts[string(e.Type)]++
	}
	return counts
}
