package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const segmentFileExt = ".bin"

var ErrUnsafeIdentifier = errors.New("identifier cannot be used as a file name")

type Options struct {
	Dir     string
	Persist bool
	Index   *Index
	Logger  *logrus.Logger
}

// Cache holds one segment per (stream, segment) pair. The first write for a
// key wins and later writes are ignored.
type Cache struct {
	dir     string
	persist bool
	index   *Index
	logger  *logrus.Logger

	mu       sync.RWMutex
	segments map[cacheKey]*Segment
}

type cacheKey struct {
	stream  string
	segment string
}

func NewCache(opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		dir:      opts.Dir,
		persist:  opts.Persist && opts.Dir != "",
		index:    opts.Index,
		logger:   log,
		segments: make(map[cacheKey]*Segment),
	}
}

// Get returns the cached segment marked with the cache source.
func (c *Cache) Get(streamID, segmentID string) (*Segment, bool) {
	c.mu.RLock()
	seg, ok := c.segments[cacheKey{streamID, segmentID}]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return seg.asCached(), true
}

func (c *Cache) Has(streamID, segmentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.segments[cacheKey{streamID, segmentID}]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}

// Put stores seg if its key is new and reports whether it did. With
// persistence on, the winning write is also mirrored to disk and indexed.
// A disk error is returned but the memory copy is kept.
func (c *Cache) Put(ctx context.Context, seg *Segment) (bool, error) {
	key := cacheKey{seg.StreamID, seg.SegmentID}

	c.mu.Lock()
	if _, exists := c.segments[key]; exists {
		c.mu.Unlock()
		return false, nil
	}
	stored := *seg
	stored.Data = append([]byte(nil), seg.Data...)
	stored.Size = len(stored.Data)
	c.segments[key] = &stored
	c.mu.Unlock()

	if !c.persist {
		return true, nil
	}
	if err := c.writeToDisk(ctx, &stored); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Cache) writeToDisk(ctx context.Context, seg *Segment) error {
	path, err := c.SegmentPath(seg.StreamID, seg.SegmentID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(path, seg.Data, 0o644); err != nil {
		return fmt.Errorf("writing segment %s: %w", seg.SegmentID, err)
	}

	if c.index == nil {
		return nil
	}
	err = c.index.Record(ctx, SegmentEntry{
		StreamID:  seg.StreamID,
		SegmentID: seg.SegmentID,
		Size:      seg.Size,
		Source:    string(seg.Source),
		Provider:  seg.Provider,
		LatencyMs: seg.LatencyMs,
		SpeedMbps: seg.SpeedMbps,
		Path:      path,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("indexing segment %s: %w", seg.SegmentID, err)
	}
	return nil
}

// SegmentPath returns <dir>/<streamId>/<segmentId>.bin.
func (c *Cache) SegmentPath(streamID, segmentID string) (string, error) {
	if !safeName(streamID) || !safeName(segmentID) {
		return "", fmt.Errorf("%w: %q/%q", ErrUnsafeIdentifier, streamID, segmentID)
	}
	return filepath.Join(c.dir, streamID, segmentID+segmentFileExt), nil
}

func safeName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// EnsureStreamDir creates the stream's cache directory when persistence is on.
func (c *Cache) EnsureStreamDir(streamID string) error {
	if !c.persist {
		return nil
	}
	if !safeName(streamID) {
		return fmt.Errorf("%w: %q", ErrUnsafeIdentifier, streamID)
	}
	return os.MkdirAll(filepath.Join(c.dir, streamID), 0o755)
}

// Warm loads indexed segments of a stream back into memory. Entries whose
// file is gone are dropped from the index.
func (c *Cache) Warm(ctx context.Context, streamID string) (int, error) {
	if !c.persist || c.index == nil {
		return 0, nil
	}
	entries, err := c.index.Segments(ctx, streamID)
	if err != nil {
		return 0, fmt.Errorf("listing indexed segments: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		path, err := c.SegmentPath(e.StreamID, e.SegmentID)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Debugf("Dropping index entry for %s: %v", e.SegmentID, err)
			if err := c.index.Forget(ctx, e.StreamID, e.SegmentID); err != nil {
				c.logger.Warnf("Failed to forget segment %s: %v", e.SegmentID, err)
			}
			continue
		}

		c.mu.Lock()
		key := cacheKey{e.StreamID, e.SegmentID}
		if _, exists := c.segments[key]; !exists {
			c.segments[key] = &Segment{
				StreamID:   e.StreamID,
				SegmentID:  e.SegmentID,
				Data:       data,
				Size:       len(data),
				LatencyMs:  e.LatencyMs,
				SpeedMbps:  e.SpeedMbps,
				Source:     Source(e.Source),
				Provider:   e.Provider,
				ReceivedAt: time.Unix(e.CreatedAt, 0),
			}
			loaded++
		}
		c.mu.Unlock()
	}
	return loaded, nil
}
