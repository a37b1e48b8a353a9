package object

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teamchat-ai/backend/pkg/logger"
)

// Client fetches raw document bytes from the upload store by URL.
type Client struct {
	httpClient *http.Client
	maxSize    int64
}

func NewClient(timeout time.Duration, maxSize int64) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if maxSize == 0 {
		maxSize = 50 * 1024 * 1024
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxSize:    maxSize,
	}
}

func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("document at %s exceeds size limit of %d bytes", url, c.maxSize)
	}

	logger.Debug("Document fetched",
		zap.String("url", url),
		zap.Int("bytes", len(data)),
	)

	return data, nil
}
