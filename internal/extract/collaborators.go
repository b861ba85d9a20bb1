// Package extract downloads newly attached files and turns them into cached
// artifacts, preferring the OCR engine and falling back to rendered page
// images per batch.
package extract

import (
	"context"
	"time"

	"docpipe/internal/models"
)

// Downloader fetches the raw bytes of one attached file from the host.
type Downloader interface {
	Fetch(ctx context.Context, fileURL string) ([]byte, error)
}

// Engine is the document extraction collaborator. It returns ordered
// per-page markdown and may fail per document or wholesale.
type Engine interface {
	Extract(ctx context.Context, data []byte) ([]string, error)
}

// Renderer is the page-image collaborator used as the fallback method, and
// as the only method when no engine is configured.
type Renderer interface {
	Render(ctx context.Context, data []byte, dpi int) ([]models.ContentPart, error)
}

// Result is the per-file outcome of one dispatch, consumed by the journal.
type Result struct {
	FileID      string
	DisplayName string
	Method      string
	Kind        models.ArtifactKind
	Pages       int
	// Elapsed is the time this file spent in its own download and
	// extraction calls, not the batch total.
	Elapsed time.Duration
	Err     error
}

const (
	MethodEngine   = "engine"
	MethodRenderer = "renderer"
	MethodDownload = "download"
)
