package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxSegmentBytes = 256 * 1024 * 1024

type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s at %s", e.Status, http.StatusText(e.Status), e.URL)
}

type Result struct {
	Data      []byte
	LatencyMs int64
	SpeedMbps float64
	URL       string
}

type Fetcher struct {
	client *http.Client
	now    func() time.Time
}

// NewFetcher returns a Fetcher using client, or a fresh client when nil.
// Timeouts are applied per request through the context.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, now: time.Now}
}

// Get downloads url as a raw body within timeout. A zero timeout only
// honours ctx.
func (f *Fetcher) Get(ctx context.Context, url string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	started := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("no response from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{}, &StatusError{URL: url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentBytes))
	if err != nil {
		return Result{}, fmt.Errorf("reading body from %s: %w", url, err)
	}

	latency := f.now().Sub(started).Milliseconds()
	return Result{
		Data:      data,
		LatencyMs: latency,
		SpeedMbps: SpeedMbps(len(data), latency),
		URL:       url,
	}, nil
}
