// Package fetch downloads segments over HTTP from seeders, origins and peers
// that expose an HTTP endpoint.
package fetch

import (
	"errors"
	"net/url"
	"strings"

	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
)

const DefaultSegmentTemplate = "/streams/{streamId}/segments/{segmentId}"

var ErrNoBaseURL = errors.New("no base url configured")

// BuildSegmentURL expands template against desc and segmentID and joins it
// to base. An empty template means DefaultSegmentTemplate.
func BuildSegmentURL(base, template string, desc parser.StreamDescriptor, segmentID string) (string, error) {
	if base == "" {
		return "", ErrNoBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	if template == "" {
		template = DefaultSegmentTemplate
	}

	path := strings.NewReplacer(
		"{streamId}", url.PathEscape(desc.StreamID),
		"{segmentId}", url.PathEscape(segmentID),
		"{movieId}", url.PathEscape(desc.MovieID),
		"{quality}", url.PathEscape(desc.Quality),
	).Replace(template)

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

// SpeedMbps converts a transfer into MiB per second. Zero bytes or a
// non-positive latency give 0.
func SpeedMbps(bytes int, latencyMs int64) float64 {
	if bytes <= 0 || latencyMs <= 0 {
		return 0
	}
	seconds := float64(latencyMs) / 1000
	megabytes := float64(bytes) / (1024 * 1024)
	return megabytes / seconds
}
