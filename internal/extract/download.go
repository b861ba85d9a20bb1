package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultDownloadTimeout = 30 * time.Second

// HostDownloader fetches file content from the chat host with bearer auth.
// File URLs arrive host-relative; the host serves the raw bytes under the
// file's /content endpoint.
type HostDownloader struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHostDownloader(baseURL, apiKey string, timeout time.Duration) *HostDownloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &HostDownloader{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *HostDownloader) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	url := fileURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		if !strings.HasPrefix(url, "/") {
			url = "/" + url
		}
		url = d.baseURL + url + "/content"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download file: HTTP %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	return data, nil
}
