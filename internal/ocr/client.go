// Package ocr runs documents through the OCR engine and persists the
// resulting element stream as a JSON artifact. Images analyze synchronously;
// PDFs go through the async submit/poll/paginate flow with the configured
// query list.
package ocr

import (
	"context"

	"github.com/cario/title-extract/internal/model"
)

// Analysis job statuses reported by GetAnalysis.
const (
	JobInProgress = "IN_PROGRESS"
	JobSucceeded  = "SUCCEEDED"
	JobFailed     = "FAILED"
)

// DefaultQueries are the questions submitted with every async analysis.
var DefaultQueries = []string{
	"VIN",
	"Title Number",
	"Certificate Type",
	"Owner",
	"Owner Address",
	"First Lienholder",
	"Odometer Reading",
	"Sale Date",
}

// AnalysisPage is one page of async analysis output. NextToken is empty on
// the last page.
type AnalysisPage struct {
	JobStatus string
	Elements  []model.Element
	NextToken string
}

// Client is the OCR engine surface the service depends on.
type Client interface {
	// AnalyzeDocument runs a synchronous analysis of an image object.
	AnalyzeDocument(ctx context.Context, bucket, key string) ([]model.Element, error)
	// StartAnalysis submits an async analysis job for a PDF object.
	StartAnalysis(ctx context.Context, bucket, key string, queries []string) (string, error)
	// GetAnalysis fetches job status and one page of results. Pass an empty
	// nextToken for the first page.
	GetAnalysis(ctx context.Context, jobID, nextToken string) (*AnalysisPage, error)
}
