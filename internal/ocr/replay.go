package ocr

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/objectstore"
)

// AnalysisSuffix names the sidecar object a ReplayClient reads for a given
// input key.
const AnalysisSuffix = ".analysis.json"

// ReplayClient serves analysis results captured earlier, stored as a
// `<key>.analysis.json` sidecar next to the input object. Local runs and
// fixtures use it in place of the managed OCR engine; both sit behind the
// same Client interface.
type ReplayClient struct {
	store objectstore.Store
}

// NewReplayClient returns a Client reading captured analysis sidecars.
func NewReplayClient(store objectstore.Store) *ReplayClient {
	return &ReplayClient{store: store}
}

func (c *ReplayClient) load(ctx context.Context, bucket, key string) ([]model.Element, error) {
	data, err := c.store.GetBytes(ctx, bucket, key+AnalysisSuffix)
	if eris.Is(err, objectstore.ErrNotFound) {
		return nil, eris.Wrapf(err, "ocr: no captured analysis for %s", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "ocr: load captured analysis")
	}
	var elements []model.Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, eris.Wrap(err, "ocr: decode captured analysis")
	}
	return elements, nil
}

func (c *ReplayClient) AnalyzeDocument(ctx context.Context, bucket, key string) ([]model.Element, error) {
	return c.load(ctx, bucket, key)
}

// StartAnalysis encodes the object location as the job id; the replay has no
// real job to track.
func (c *ReplayClient) StartAnalysis(_ context.Context, bucket, key string, _ []string) (string, error) {
	return bucket + "|" + key, nil
}

// GetAnalysis returns the whole captured result as a single succeeded page.
func (c *ReplayClient) GetAnalysis(ctx context.Context, jobID, _ string) (*AnalysisPage, error) {
	bucket, key, ok := strings.Cut(jobID, "|")
	if !ok {
		return nil, eris.Errorf("ocr: malformed replay job id %q", jobID)
	}
	elements, err := c.load(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &AnalysisPage{JobStatus: JobSucceeded, Elements: elements}, nil
}
