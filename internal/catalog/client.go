// Package catalog resolves stream manifests through the movie catalog API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoCatalogKey    = errors.New("stream id has no movie and quality")
	ErrNoQualities     = errors.New("movie has no quality information")
	ErrQualityNotFound = errors.New("quality not offered for movie")
	ErrNoManifestURL   = errors.New("manifest url could not be built")
)

type Options struct {
	BaseURL       string
	OriginBaseURL string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *logrus.Logger
}

type Client struct {
	baseURL   string
	originURL string
	timeout   time.Duration
	http      *http.Client
	logger    *logrus.Logger
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		originURL: opts.OriginBaseURL,
		timeout:   opts.Timeout,
		http:      hc,
		logger:    log,
	}
}

type movieResponse struct {
	Data struct {
		Qualities map[string]string `json:"qualities"`
	} `json:"data"`
}

// Manifest names the catalog quality that matched and where its manifest is.
type Manifest struct {
	Quality string
	URL     string
}

func (c *Client) ResolveManifest(ctx context.Context, desc parser.StreamDescriptor) (Manifest, error) {
	if !desc.HasCatalogKey() {
		return Manifest{}, ErrNoCatalogKey
	}

	endpoint := c.baseURL + "/api/movies/" + url.PathEscape(desc.MovieID)
	body, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return Manifest{}, fmt.Errorf("calling movie info API: %w", err)
	}

	var resp movieResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Manifest{}, fmt.Errorf("decoding movie %s: %w", desc.MovieID, err)
	}
	if len(resp.Data.Qualities) == 0 {
		return Manifest{}, fmt.Errorf("%w: %s", ErrNoQualities, desc.MovieID)
	}

	key, raw, ok := pickQuality(resp.Data.Qualities, desc.Quality)
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %q", ErrQualityNotFound, desc.Quality)
	}
	manifestURL := ResolveManifestURL(raw, c.originURL)
	if manifestURL == "" {
		return Manifest{}, fmt.Errorf("%w: quality %s", ErrNoManifestURL, key)
	}
	return Manifest{Quality: key, URL: manifestURL}, nil
}

// LoadPlaylist resolves and downloads the manifest for desc.
func (c *Client) LoadPlaylist(ctx context.Context, desc parser.StreamDescriptor) ([]string, error) {
	m, err := c.ResolveManifest(ctx, desc)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, m.URL, "")
	if err != nil {
		return nil, fmt.Errorf("downloading manifest %s: %w", m.URL, err)
	}
	segments, err := parser.ParseManifest(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		c.logger.Infof("Loaded manifest %s with %d segments from %s", m.Quality, len(segments), m.URL)
	}
	return segments, nil
}

func (c *Client) get(ctx context.Context, target, accept string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d at %s", resp.StatusCode, target)
	}
	return io.ReadAll(resp.Body)
}

// pickQuality matches the exact key first, then ignores case.
func pickQuality(qualities map[string]string, want string) (string, string, bool) {
	if u, ok := qualities[want]; ok && u != "" {
		return want, u, true
	}
	for key, u := range qualities {
		if strings.EqualFold(key, want) && u != "" {
			return key, u, true
		}
	}
	return "", "", false
}

// ResolveManifestURL makes a catalog manifest reference absolute. Relative
// references are joined to originBase, dropping a leading path element that
// repeats the last element of the base.
func ResolveManifestURL(raw, originBase string) string {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	if originBase == "" {
		if strings.HasPrefix(raw, "/") {
			return raw
		}
		return "/" + raw
	}

	base := strings.TrimRight(originBase, "/")
	path := strings.TrimLeft(raw, "/")
	baseParts := strings.Split(base, "/")
	pathParts := strings.Split(path, "/")
	if baseParts[len(baseParts)-1] == pathParts[0] {
		pathParts = pathParts[1:]
	}
	return base + "/" + strings.Join(pathParts, "/")
}
