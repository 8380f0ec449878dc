package ocr

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
)

// DefaultThreshold filters out low-confidence OCR noise.
const DefaultThreshold = 90.0

// ServiceConfig locates OCR output and tunes the analysis.
type ServiceConfig struct {
	OutputBucket string
	OutputPrefix string
	Queries      []string
	PollOptions  []PollOption
}

// Service orchestrates one OCR pass per document.
type Service struct {
	store  objectstore.Store
	client Client
	cfg    ServiceConfig
}

// NewService wires the OCR service. An empty query list falls back to
// DefaultQueries.
func NewService(store objectstore.Store, client Client, cfg ServiceConfig) *Service {
	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultQueries
	}
	return &Service{store: store, client: client, cfg: cfg}
}

// Result describes one OCR pass: where the element JSON landed, the elements
// themselves, and confidence stats. Skipped is true when an earlier pass
// already produced the artifact.
type Result struct {
	OutputBucket string
	OutputKey    string
	URI          string
	Elements     []model.Element
	Stats        model.ConfidenceStats
	Skipped      bool
}

// ProcessFile analyzes one stored document. If the output artifact already
// exists the stored elements are returned as-is, making re-runs idempotent.
// A threshold <= 0 falls back to DefaultThreshold.
func (s *Service) ProcessFile(ctx context.Context, inputBucket, inputKey string, threshold float64) (*Result, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	normalizedKey := normalizeKey(inputKey)
	outputKey := s.cfg.OutputPrefix + normalizedKey + ".json"
	uri := objectstore.URI(s.cfg.OutputBucket, outputKey)

	exists, err := s.store.Exists(ctx, s.cfg.OutputBucket, outputKey)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: check existing output")
	}
	if exists {
		zap.L().Info("ocr: output already exists, skipping analysis", zap.String("uri", uri))
		data, err := s.store.GetBytes(ctx, s.cfg.OutputBucket, outputKey)
		if err != nil {
			return nil, eris.Wrap(err, "ocr: load existing output")
		}
		var elements []model.Element
		if err := json.Unmarshal(data, &elements); err != nil {
			return nil, eris.Wrap(err, "ocr: decode existing output")
		}
		return &Result{
			OutputBucket: s.cfg.OutputBucket,
			OutputKey:    outputKey,
			URI:          uri,
			Elements:     elements,
			Stats:        model.ComputeConfidenceStats(elements),
			Skipped:      true,
		}, nil
	}

	zap.L().Info("ocr: analyzing document",
		zap.String("bucket", inputBucket),
		zap.String("key", normalizedKey),
		zap.Float64("threshold", threshold),
	)

	var elements []model.Element
	if strings.HasSuffix(strings.ToLower(normalizedKey), ".pdf") {
		elements, err = s.processAsync(ctx, inputBucket, normalizedKey, threshold)
	} else {
		elements, err = s.processSync(ctx, inputBucket, normalizedKey, threshold)
	}
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		zap.L().Warn("ocr: no high-confidence elements found",
			zap.String("bucket", inputBucket),
			zap.String("key", normalizedKey),
		)
	}

	data, err := json.Marshal(elements)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: encode elements")
	}
	if err := s.store.PutBytes(ctx, s.cfg.OutputBucket, outputKey, data, "application/json"); err != nil {
		return nil, eris.Wrap(err, "ocr: store output")
	}
	zap.L().Info("ocr: output written", zap.String("uri", uri), zap.Int("elements", len(elements)))

	return &Result{
		OutputBucket: s.cfg.OutputBucket,
		OutputKey:    outputKey,
		URI:          uri,
		Elements:     elements,
		Stats:        model.ComputeConfidenceStats(elements),
	}, nil
}

func (s *Service) processSync(ctx context.Context, bucket, key string, threshold float64) ([]model.Element, error) {
	elements, err := s.client.AnalyzeDocument(ctx, bucket, key)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: analyze document")
	}
	return filterByConfidence(elements, threshold), nil
}

func (s *Service) processAsync(ctx context.Context, bucket, key string, threshold float64) ([]model.Element, error) {
	jobID, err := s.client.StartAnalysis(ctx, bucket, key, s.cfg.Queries)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: start analysis")
	}
	zap.L().Info("ocr: async analysis started",
		zap.String("job_id", jobID),
		zap.Int("queries", len(s.cfg.Queries)),
	)

	page, err := PollAnalysis(ctx, s.client, jobID, s.cfg.PollOptions...)
	if err != nil {
		return nil, err
	}

	elements := filterByConfidence(page.Elements, threshold)
	nextToken := page.NextToken
	for nextToken != "" {
		page, err = s.client.GetAnalysis(ctx, jobID, nextToken)
		if err != nil {
			return nil, eris.Wrap(err, "ocr: fetch analysis page")
		}
		elements = append(elements, filterByConfidence(page.Elements, threshold)...)
		nextToken = page.NextToken
	}
	return elements, nil
}

// filterByConfidence drops elements below the threshold. Elements without a
// confidence score are dropped too; downstream consumers only want scored
// content.
func filterByConfidence(elements []model.Element, threshold float64) []model.Element {
	var kept []model.Element
	for _, e := range elements {
		if e.Confidence > 0 && e.Confidence >= threshold {
			kept = append(kept, e)
		}
	}
	return kept
}

// normalizeKey decodes URL-escaped object keys (%2F, %20 and friends).
func normalizeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}
