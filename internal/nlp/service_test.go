package nlp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cario/title-extract/internal/fusion"
	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
	"github.com/cario/title-extract/internal/prompt"
	"github.com/cario/title-extract/pkg/chat"
)

// fakeChat replays canned responses and records requests.
type fakeChat struct {
	mu        sync.Mutex
	responses []string
	requests  []chat.MessageRequest
}

func (f *fakeChat) CreateMessage(_ context.Context, req chat.MessageRequest) (*chat.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &chat.MessageResponse{
		Content: []chat.ContentBlock{{Type: "text", Text: f.responses[idx]}},
		Usage:   chat.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func seedElements(t *testing.T, store *objectstore.Mem, key string, elements []model.Element) {
	t.Helper()
	data, err := json.Marshal(elements)
	require.NoError(t, err)
	require.NoError(t, store.PutBytes(context.Background(), "titles", key, data, "application/json"))
}

func seedPrompt(t *testing.T, store *objectstore.Mem) {
	t.Helper()
	cfg := "system: You are a vehicle title extraction engine.\nrules:\n  vin: \"VIN is 17 characters.\"\n"
	require.NoError(t, store.PutBytes(context.Background(), "titles", "prompts/nlp.yaml", []byte(cfg), ""))
}

func titleElements() []model.Element {
	return []model.Element{
		{ID: "l1", Type: model.ElementLine, Text: "CERTIFICATE OF TITLE", Confidence: 99},
		{ID: "l2", Type: model.ElementLine, Text: "1FTEX1C88AFB12345", Confidence: 98},
		{ID: "l3", Type: model.ElementLine, Text: "JANE DOE 123 MAIN ST HARRISBURG PA 17101", Confidence: 96},
		{ID: "l4", Type: model.ElementLine, Text: "FORD", Confidence: 97},
	}
}

func newTestService(chatClient chat.Client, store *objectstore.Mem, maxChunkChars int) *Service {
	return NewService(store, chatClient, prompt.NewLoader(store), ServiceConfig{
		Bucket:            "titles",
		Model:             "claude-haiku-4-5-20251001",
		MaxChunkChars:     maxChunkChars,
		PromptKey:         "prompts/nlp.yaml",
		RequestsPerSecond: 1000,
		Burst:             100,
	})
}

func TestNormalize_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	seedPrompt(t, store)
	seedElements(t, store, "textract/input/doc.pdf.json", titleElements())

	// Model misreads the VIN; the high-fidelity OCR scan corrects it.
	fake := &fakeChat{responses: []string{
		`{"vehicle":{"vin":"1FTEX1C88AFB1234O","make":"FORD","year":2015},
		  "owner":{"first_name":"Jane","last_name":"Doe",
		           "address":{"line1":"123 Main St","city":"Harrisburg","state":"PA","zip":"17101"}},
		  "issuing_date":"2021-06-15"}`,
	}}
	svc := newTestService(fake, store, 0)

	res, err := svc.Normalize(ctx, "textract/input/doc.pdf.json", "openai/input/doc.pdf.json", 70)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.True(t, res.SchemaValid)

	info := res.Business[fusion.KeyTitleInformation].(map[string]any)
	vin := info["vehicle_id_number"].(map[string]any)
	assert.Equal(t, "1FTEX1C88AFB12345", vin["value"])
	assert.Equal(t, fusion.ConfidenceValidated, vin["confidence"])
	assert.Equal(t, "FORD", info["make"].(map[string]any)["value"])

	owner := res.Business[fusion.KeyOwnerInformation].(map[string]any)
	assert.Equal(t, "Jane Doe", owner["name"].(map[string]any)["value"])

	assert.Equal(t, "Jane", res.Output.Owner.FirstName)
	assert.NotEmpty(t, res.Output.RawJSON)
	assert.Equal(t, "s3://titles/textract/input/doc.pdf.json", res.Output.SourceURI)
}

func TestNormalize_SavesArtifacts(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	seedPrompt(t, store)
	seedElements(t, store, "textract/doc.json", titleElements())

	fake := &fakeChat{responses: []string{`{"vehicle":{"vin":"1FTEX1C88AFB12345"}}`}}
	svc := newTestService(fake, store, 0)

	res, err := svc.Normalize(ctx, "textract/doc.json", "openai/doc.json", 70)
	require.NoError(t, err)
	assert.Equal(t, "openai/doc.json", res.NormalizedKey)
	assert.Equal(t, "openai/doc.business.json", res.BusinessKey)

	normalized, err := store.GetBytes(ctx, "titles", "openai/doc.json")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(normalized, &out))
	assert.Contains(t, out, "vehicle")

	business, err := store.GetBytes(ctx, "titles", "openai/doc.business.json")
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(business, &record))
	assert.Contains(t, record, fusion.KeyTitleInformation)
}

func TestNormalize_NoOutputKeySkipsArtifacts(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	seedPrompt(t, store)
	seedElements(t, store, "textract/doc.json", titleElements())

	fake := &fakeChat{responses: []string{`{}`}}
	svc := newTestService(fake, store, 0)

	res, err := svc.Normalize(ctx, "textract/doc.json", "", 70)
	require.NoError(t, err)
	assert.Empty(t, res.NormalizedKey)

	keys, err := store.List(ctx, "titles", "openai/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNormalize_MergesChunkPartials(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	seedPrompt(t, store)
	seedElements(t, store, "textract/doc.json", titleElements())

	fake := &fakeChat{responses: []string{
		`{"vehicle":{"vin":"1FTEX1C88AFB12345","make":"FORD"}}`,
		`{"owner":{"firm_name":"Acme Leasing LLC"},"previous_state_title":"OH"}`,
	}}
	// Tiny budget forces multiple chunks.
	svc := newTestService(fake, store, 30)

	res, err := svc.Normalize(ctx, "textract/doc.json", "", 70)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Chunks, 2)
	assert.Equal(t, "1FTEX1C88AFB12345", res.Output.Vehicle.VIN)
	assert.Equal(t, "Acme Leasing LLC", res.Output.Owner.FirmName)
	assert.Equal(t, "OH", res.Output.PreviousStateTitle)
}

func TestNormalize_SystemPromptCarriesRulesAndSchema(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMem()
	seedPrompt(t, store)
	seedElements(t, store, "textract/doc.json", titleElements())

	fake := &fakeChat{responses: []string{`{}`}}
	svc := newTestService(fake, store, 0)

	_, err := svc.Normalize(ctx, "textract/doc.json", "", 70)
	require.NoError(t, err)

	require.NotEmpty(t, fake.requests)
	system := fake.requests[0].System[0].Text
	assert.Contains(t, system, "title extraction engine")
	assert.Contains(t, system, "VIN is 17 characters.")
	assert.Contains(t, system, "lienholders")
	assert.NotNil(t, fake.requests[0].System[0].CacheControl)
}

func TestNormalize_MissingElements(t *testing.T) {
	store := objectstore.NewMem()
	seedPrompt(t, store)
	svc := newTestService(&fakeChat{responses: []string{`{}`}}, store, 0)

	_, err := svc.Normalize(context.Background(), "textract/absent.json", "", 70)
	require.Error(t, err)
	assert.True(t, eris.Is(err, objectstore.ErrNotFound))
}
