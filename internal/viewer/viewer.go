// Package viewer plays a stream by fetching segments from peers, the seeder
// or the origin and releasing them to playback in playlist order.
package viewer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-stream/internal/buffer"
	"github.com/rudransh-shrivastava/peer-stream/internal/config"
	"github.com/rudransh-shrivastava/peer-stream/internal/fetch"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/metrics"
	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
	"github.com/rudransh-shrivastava/peer-stream/internal/selector"
	"github.com/rudransh-shrivastava/peer-stream/internal/signaling"
	"github.com/rudransh-shrivastava/peer-stream/internal/store"
	"github.com/rudransh-shrivastava/peer-stream/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyPlaylist = errors.New("playlist is empty")
	ErrNoPeerRoute   = errors.New("no endpoint or open data channel for peer")
	ErrPeerTimeout   = errors.New("peer did not deliver in time")
	ErrNoSeeder      = errors.New("seeder fallback is not configured")
)

const (
	defaultIdleWait = 200 * time.Millisecond
	prefetchBackoff = 100 * time.Millisecond
	criticalBackoff = 50 * time.Millisecond
)

// Discovery finds peers holding a segment and hears about fetched ones.
type Discovery interface {
	RequestWhoHas(ctx context.Context, segmentID string, timeout time.Duration) ([]protocol.PeerEntry, error)
	ReportSegment(r signaling.Report)
}

// Transport exchanges segments with connected peers.
type Transport interface {
	RequestSegment(segmentID string)
	RequestSegmentFrom(peerID, segmentID string) error
	SendSegment(ch transport.Channel, segmentID string, data []byte) error
	Segments() <-chan transport.SegmentEvent
	Requests() <-chan transport.RequestEvent
	IsOpen(peerID string) bool
}

type Options struct {
	Descriptor parser.StreamDescriptor
	ClientID   string
	Playlist   []string

	Playback config.PlaybackConfig
	Scoring  selector.Weights
	Fallback config.FallbackConfig
	Peers    map[string]config.PeerEndpoint

	Discovery Discovery
	// Transport is optional. Without it only HTTP sources are used.
	Transport Transport
	Cache     *store.Cache
	Fetcher   *fetch.Fetcher
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger

	// OnPlay runs for every segment leaving the buffer, with its 1-based
	// playback position.
	OnPlay   func(seg *store.Segment, position int)
	IdleWait time.Duration
}

// task is one in-flight segment fetch.
type task struct {
	done chan struct{}
	seg  *store.Segment
	err  error
}

func completed(seg *store.Segment) *task {
	t := &task{done: make(chan struct{}), seg: seg}
	close(t.done)
	return t
}

func (t *task) wait(ctx context.Context) (*store.Segment, error) {
	select {
	case <-t.done:
		return t.seg, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Viewer struct {
	opts      Options
	streamID  string
	playlist  []string
	positions map[string]int

	discovery Discovery
	transport Transport
	cache     *store.Cache
	fetcher   *fetch.Fetcher
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	buffer    *buffer.PlaybackBuffer

	mu          sync.Mutex
	fetchQueue  map[string]*task
	retryQueue  []string
	pending     map[string]*store.Segment
	fetchCursor int
	fillCursor  int
	playCursor  int

	waitMu  sync.Mutex
	waiters map[string][]chan transport.SegmentEvent

	closeOnce sync.Once
}

func New(opts Options) (*Viewer, error) {
	playlist := dedupe(opts.Playlist)
	if len(playlist) == 0 {
		return nil, ErrEmptyPlaylist
	}
	if opts.Discovery == nil {
		return nil, errors.New("viewer needs a discovery client")
	}
	if opts.Cache == nil {
		opts.Cache = store.NewCache(store.Options{})
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.NewFetcher(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = defaultIdleWait
	}

	positions := make(map[string]int, len(playlist))
	for i, id := range playlist {
		positions[id] = i
	}

	return &Viewer{
		opts:       opts,
		streamID:   opts.Descriptor.StreamID,
		playlist:   playlist,
		positions:  positions,
		discovery:  opts.Discovery,
		transport:  opts.Transport,
		cache:      opts.Cache,
		fetcher:    opts.Fetcher,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		buffer:     buffer.New(),
		fetchQueue: make(map[string]*task),
		pending:    make(map[string]*store.Segment),
		waiters:    make(map[string][]chan transport.SegmentEvent),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Run prefetches and plays the whole playlist. It returns nil once playback
// completes and ctx.Err() when cancelled first.
func (v *Viewer) Run(ctx context.Context) error {
	if v.transport != nil {
		go v.serve(ctx)
	}

	v.logger.Infof("Viewer %s starting playback for stream %s (%d segments)", v.opts.ClientID, v.streamID, len(v.playlist))

	if err := v.initialPrefetch(ctx); err != nil {
		return err
	}
	if err := v.play(ctx); err != nil {
		return err
	}

	v.logger.Info("Playback complete.")
	return nil
}

// Close releases the discovery client and transport when they can be
// closed.
func (v *Viewer) Close() error {
	var errs []error
	v.closeOnce.Do(func() {
		if c, ok := v.discovery.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := v.transport.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}

func (v *Viewer) Playlist() []string {
	return append([]string(nil), v.playlist...)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	StreamID         string `json:"streamId"`
	PlaylistLength   int    `json:"playlistLength"`
	PlaybackCursor   int    `json:"playbackCursor"`
	BufferFillCursor int    `json:"bufferFillCursor"`
	FetchCursor      int    `json:"fetchCursor"`
	Buffered         int    `json:"buffered"`
	Pending          int    `json:"pending"`
	Inflight         int    `json:"inflight"`
	Retry            int    `json:"retry"`
	Cached           int    `json:"cached"`
}

func (v *Viewer) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Status{
		StreamID:         v.streamID,
		PlaylistLength:   len(v.playlist),
		PlaybackCursor:   v.playCursor,
		BufferFillCursor: v.fillCursor,
		FetchCursor:      v.fetchCursor,
		Buffered:         v.buffer.Size(),
		Pending:          len(v.pending),
		Inflight:         len(v.fetchQueue),
		Retry:            len(v.retryQueue),
		Cached:           v.cache.Len(),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
