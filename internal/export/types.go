// Package export generates DDQ review reports in CSV and PDF formats.
package export

import (
	"context"
	"errors"

	"vestira/api/internal/store"
)

// Format represents the export output format
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	DDQID  string
	Format Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DataStore defines the interface for data access
type DataStore interface {
	GetDDQ(ctx context.Context, id string) (store.DDQ, error)
	ListQuestions(ctx context.Context, ddqID string) ([]store.Question, error)
	ListBranchesByDDQ(ctx context.Context, ddqID string) ([]store.Branch, error)
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates the requested format is not supported.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
