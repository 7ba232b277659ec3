package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveManifestURL(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		origin string
		want   string
	}{
		{"absolute", "https://cdn/x/playlist.m3u8", "http://origin/movies", "https://cdn/x/playlist.m3u8"},
		{"duplicate segment dropped", "/movies/m1/720p/playlist.m3u8", "http://origin:9000/movies/", "http://origin:9000/movies/m1/720p/playlist.m3u8"},
		{"plain relative", "m1/720p/playlist.m3u8", "http://origin:9000/movies", "http://origin:9000/movies/m1/720p/playlist.m3u8"},
		{"no origin", "m1/playlist.m3u8", "", "/m1/playlist.m3u8"},
		{"empty", "", "http://origin", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveManifestURL(tt.raw, tt.origin))
		})
	}
}

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/api/movies/m1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"qualities":{"720P":"/movies/m1/720p/playlist.m3u8","1080p":"` + srv.URL + `/movies/m1/1080p/playlist.m3u8"}}}`))
	})
	mux.HandleFunc("/api/movies/bare", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})
	mux.HandleFunc("/movies/m1/720p/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\nseg_000.ts\nseg_001.ts\nseg_000.ts\n"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LoadPlaylist(t *testing.T) {
	srv := newCatalogServer(t)
	c := NewClient(Options{BaseURL: srv.URL, OriginBaseURL: srv.URL + "/movies"})

	segments, err := c.LoadPlaylist(context.Background(), parser.ParseStreamDescriptor("m1_720p"))
	require.NoError(t, err)
	assert.Equal(t, []string{"seg_000", "seg_001"}, segments)
}

func TestClient_ResolveManifest(t *testing.T) {
	srv := newCatalogServer(t)
	c := NewClient(Options{BaseURL: srv.URL, OriginBaseURL: srv.URL + "/movies"})
	ctx := context.Background()

	m, err := c.ResolveManifest(ctx, parser.ParseStreamDescriptor("m1_720p"))
	require.NoError(t, err)
	assert.Equal(t, "720P", m.Quality)
	assert.Equal(t, srv.URL+"/movies/m1/720p/playlist.m3u8", m.URL)

	_, err = c.ResolveManifest(ctx, parser.ParseStreamDescriptor("m1_4k"))
	assert.ErrorIs(t, err, ErrQualityNotFound)

	_, err = c.ResolveManifest(ctx, parser.ParseStreamDescriptor("bare_720p"))
	assert.ErrorIs(t, err, ErrNoQualities)

	_, err = c.ResolveManifest(ctx, parser.ParseStreamDescriptor("legacy"))
	assert.ErrorIs(t, err, ErrNoCatalogKey)

	_, err = c.ResolveManifest(ctx, parser.ParseStreamDescriptor("missing_720p"))
	assert.Error(t, err)
}
