package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docpipe/internal/models"
)

const defaultRenderTimeout = time.Minute

// PageRenderer talks to a rasterizer sidecar that converts a document into
// ordered page images at the requested DPI.
type PageRenderer struct {
	baseURL string
	client  *http.Client
}

func NewPageRenderer(baseURL string, timeout time.Duration) *PageRenderer {
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	return &PageRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type renderResponse struct {
	Pages []struct {
		Image string `json:"image"`
		Mime  string `json:"mime"`
	} `json:"pages"`
}

func (r *PageRenderer) Render(ctx context.Context, data []byte, dpi int) ([]models.ContentPart, error) {
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

	url := r.baseURL + "/v1/render?dpi=" + strconv.Itoa(dpi)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("renderer: HTTP %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if len(out.Pages) == 0 {
		return nil, fmt.Errorf("renderer returned no pages")
	}

	parts := make([]models.ContentPart, 0, len(out.Pages))
	for _, p := range out.Pages {
		mime := p.Mime
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, models.ImagePart(fmt.Sprintf("data:%s;base64,%s", mime, p.Image)))
	}
	return parts, nil
}
