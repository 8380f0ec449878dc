// Package vision extracts title fields straight from page images through an
// OpenAI-compatible vision model. Page rendering happens upstream; this
// path consumes already-rendered page objects and collapses the per-page
// envelopes into one business record.
package vision

import (
	"context"
	"encoding/base64"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cario/title-extract/internal/extract"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/resilience"
	"github.com/cario/title-extract/internal/schema"
	"github.com/cario/title-extract/pkg/sonar"
)

const systemPrompt = "You are reading a scanned US vehicle certificate of title. " +
	"Extract ALL available fields you can read from the image of the title. " +
	"Return a single JSON object with sections title_information, owner_information, " +
	"lien_information, assignment_of_vehicle and officials, where every field is " +
	"{\"value\": ..., \"confidence\": 1-5}. " +
	"Do not invent information not visible in the image."

const userPrompt = "Extract all fields from this vehicle title image and return only the JSON."

// ServiceConfig locates page images and picks the model.
type ServiceConfig struct {
	Bucket    string
	Model     string
	MaxTokens int
	Retry     resilience.RetryConfig
	Circuit   resilience.CircuitBreakerConfig
}

// Service runs the vision extraction path.
type Service struct {
	store   objectstore.Store
	client  sonar.Client
	breaker *resilience.CircuitBreaker
	cfg     ServiceConfig
}

// NewService wires the vision service. Model calls retry on transient
// failures and share one circuit breaker across pages.
func NewService(store objectstore.Store, client sonar.Client, cfg ServiceConfig) *Service {
	if cfg.Circuit.FailureThreshold <= 0 {
		cfg.Circuit = resilience.DefaultCircuitBreakerConfig()
	}
	return &Service{
		store:   store,
		client:  client,
		breaker: resilience.NewCircuitBreaker(cfg.Circuit),
		cfg:     cfg,
	}
}

// Result is the outcome of one vision pass.
type Result struct {
	Business    map[string]any
	Pages       int
	SchemaValid bool
}

// ExtractPages runs every page image through the model in order and
// collapses the envelopes into one business record. Pages that fail to
// extract degrade to a warning so one bad page does not lose the document.
func (s *Service) ExtractPages(ctx context.Context, pageKeys []string) (*Result, error) {
	if len(pageKeys) == 0 {
		return nil, eris.New("vision: no page images")
	}

	envelopes := make([]map[string]any, 0, len(pageKeys))
	for _, key := range pageKeys {
		envelope, err := s.extractPage(ctx, key)
		if err != nil {
			zap.L().Warn("vision: page extraction failed",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		envelopes = append(envelopes, envelope)
	}
	if len(envelopes) == 0 {
		return nil, eris.New("vision: every page extraction failed")
	}

	business := extract.Collapse(envelopes)
	valid := schema.ValidateWarn(business, strings.Join(pageKeys, ","))

	return &Result{
		Business:    business,
		Pages:       len(pageKeys),
		SchemaValid: valid,
	}, nil
}

func (s *Service) extractPage(ctx context.Context, key string) (map[string]any, error) {
	data, err := s.store.GetBytes(ctx, s.cfg.Bucket, key)
	if err != nil {
		return nil, eris.Wrap(err, "vision: load page image")
	}

	req := sonar.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []sonar.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []sonar.ContentPart{
				sonar.TextPart(userPrompt),
				sonar.ImagePart(dataURI(key, data)),
			}},
		},
	}
	if s.cfg.MaxTokens > 0 {
		req.MaxTokens = &s.cfg.MaxTokens
	}

	retry := s.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("sonar", "vision page")
	}
	envelope, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (map[string]any, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (map[string]any, error) {
			return s.client.ChatCompletion(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "vision: chat completion")
	}
	return envelope, nil
}

// dataURI inlines the image as a base64 data URI so no presigned URL
// plumbing is needed.
func dataURI(key string, data []byte) string {
	mime := "image/png"
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
