package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultEngineTimeout = 2 * time.Minute

// OCREngine talks to an OCR serving endpoint that accepts a document upload
// and answers with ordered per-page markdown.
type OCREngine struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOCREngine(baseURL, apiKey string, timeout time.Duration) *OCREngine {
	if timeout <= 0 {
		timeout = defaultEngineTimeout
	}
	return &OCREngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type ocrResponse struct {
	Pages []struct {
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (e *OCREngine) Extract(ctx context.Context, data []byte) ([]string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("write upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/ocr", &buf)
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ocr engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr engine: HTTP %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	pages := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		pages = append(pages, p.Markdown)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("ocr engine returned no pages")
	}
	return pages, nil
}
