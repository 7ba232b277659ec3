// Package store keeps fetched segments in memory, mirrors them to disk and
// indexes the mirrored files so a later run can reuse them.
package store

import "time"

type Source string

const (
	SourceCache           Source = "cache"
	SourcePeer            Source = "peer"
	SourcePeerDataChannel Source = "peer-datachannel"
	SourceSeeder          Source = "seeder"
	SourceOrigin          Source = "origin"
)

// Segment is one fetched media segment. It is not modified after it has
// been handed to the cache.
type Segment struct {
	StreamID   string
	SegmentID  string
	Data       []byte
	Size       int
	LatencyMs  int64
	SpeedMbps  float64
	Source     Source
	Provider   string
	URL        string
	ReceivedAt time.Time
}

// asCached returns a copy of s as served from the cache. Data is shared.
func (s *Segment) asCached() *Segment {
	c := *s
	c.Source = SourceCache
	return &c
}
