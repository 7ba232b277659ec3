package viewer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rudransh-shrivastava/peer-stream/internal/fetch"
	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
	"github.com/rudransh-shrivastava/peer-stream/internal/selector"
	"github.com/rudransh-shrivastava/peer-stream/internal/signaling"
	"github.com/rudransh-shrivastava/peer-stream/internal/store"
)

const (
	seederProvider      = "seeder"
	originProvider      = "origin"
	dataChannelEndpoint = "webrtc-datachannel"
)

// fetchSegment obtains one segment: cache, then ranked peers, then the
// seeder and origin.
func (v *Viewer) fetchSegment(ctx context.Context, id string, opts scheduleOptions) (*store.Segment, error) {
	if seg, ok := v.cache.Get(v.streamID, id); ok {
		v.logger.Infof("Cache hit for segment %s", id)
		return seg, nil
	}

	log := v.logger.WithField("segment", id)
	if opts.Force {
		log.Infof("Skipping peer discovery, fallback forced (%s)", opts.Reason)
	}

	var seg *store.Segment
	if !opts.Force {
		peers := v.discover(ctx, id)
		if len(peers) > 0 {
			seg = v.tryPeers(ctx, id, peers)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if seg == nil {
			log.Warn("No peer delivered, falling back to seeder")
		}
	}

	if seg == nil {
		var err error
		seg, err = v.fetchFallback(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	if _, err := v.cache.Put(ctx, seg); err != nil {
		log.Warnf("Could not persist segment: %v", err)
	}
	v.discovery.ReportSegment(signaling.Report{
		SegmentID: id,
		Source:    string(seg.Source),
		LatencyMs: float64(seg.LatencyMs),
		SpeedMbps: seg.SpeedMbps,
	})
	v.metrics.ObserveFetch(string(seg.Source), seg.LatencyMs)
	return seg, nil
}

func (v *Viewer) discover(ctx context.Context, id string) []protocol.PeerEntry {
	peers, err := v.discovery.RequestWhoHas(ctx, id, v.opts.Playback.WhoHasQueryTimeout)
	switch {
	case err != nil:
		v.metrics.IncDiscovery("error")
		v.logger.Warnf("WHO_HAS failed for segment %s: %v", id, err)
		return nil
	case len(peers) == 0:
		v.metrics.IncDiscovery("empty")
		v.logger.Warnf("No peers currently advertise segment %s", id)
		return nil
	default:
		v.metrics.IncDiscovery("peers")
		return peers
	}
}

func (v *Viewer) tryPeers(ctx context.Context, id string, peers []protocol.PeerEntry) *store.Segment {
	p := v.opts.Playback
	ranked := selector.Top(selector.Rank(peers, v.opts.Scoring), p.MaxActivePeers)

	for _, candidate := range ranked {
		if err := sleep(ctx, jitter(p.SegmentRequestWaitMin, p.SegmentRequestWaitMax)); err != nil {
			return nil
		}

		v.logger.Infof("Trying peer %s for segment %s (score=%.3f)", candidate.PeerID, id, candidate.Score)
		seg, err := v.tryPeer(ctx, candidate.PeerID, id)
		v.metrics.IncPeerAttempt(err == nil)
		if err == nil {
			v.logger.Infof("Received segment %s from peer %s", id, candidate.PeerID)
			return seg
		}
		v.logger.Warnf("Peer %s failed to deliver segment %s: %v", candidate.PeerID, id, err)
	}
	return nil
}

func (v *Viewer) tryPeer(ctx context.Context, peerID, id string) (*store.Segment, error) {
	timeout := v.opts.Playback.PeerConnectTimeout

	if ep, ok := v.opts.Peers[peerID]; ok {
		template := ep.SegmentTemplate
		if template == "" {
			template = v.opts.Fallback.SeederTemplate
		}
		url, err := fetch.BuildSegmentURL(ep.BaseURL, template, v.opts.Descriptor, id)
		if err != nil {
			return nil, err
		}
		res, err := v.fetcher.Get(ctx, url, timeout)
		if err != nil {
			return nil, err
		}
		return v.record(id, res, store.SourcePeer, peerID), nil
	}

	if v.transport != nil && v.transport.IsOpen(peerID) {
		return v.requestOverChannel(ctx, peerID, id, timeout)
	}
	return nil, ErrNoPeerRoute
}

// requestOverChannel asks one peer for the segment over its data channel
// and waits for it to arrive, from that peer or any other.
func (v *Viewer) requestOverChannel(ctx context.Context, peerID, id string, timeout time.Duration) (*store.Segment, error) {
	wait := v.addWaiter(id)
	defer v.removeWaiter(id, wait)

	if seg, ok := v.cache.Get(v.streamID, id); ok {
		return seg, nil
	}

	started := time.Now()
	if err := v.transport.RequestSegmentFrom(peerID, id); err != nil {
		return nil, fmt.Errorf("requesting from %s: %w", peerID, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-wait:
		latency := time.Since(started).Milliseconds()
		return &store.Segment{
			StreamID:   v.streamID,
			SegmentID:  id,
			Data:       ev.Data,
			Size:       len(ev.Data),
			LatencyMs:  latency,
			SpeedMbps:  fetch.SpeedMbps(len(ev.Data), latency),
			Source:     store.SourcePeerDataChannel,
			Provider:   ev.PeerID,
			URL:        dataChannelEndpoint,
			ReceivedAt: time.Now(),
		}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrPeerTimeout, peerID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetchFallback tries the seeder, then the origin when it has a segment
// template. All failures are returned together.
func (v *Viewer) fetchFallback(ctx context.Context, id string) (*store.Segment, error) {
	f := v.opts.Fallback
	timeout := v.opts.Playback.FallbackHTTPTimeout
	var errs []error

	if f.SeederBaseURL == "" {
		errs = append(errs, ErrNoSeeder)
	} else {
		seg, err := v.fetchHTTP(ctx, f.SeederBaseURL, f.SeederTemplate, id, timeout, store.SourceSeeder, seederProvider)
		if err == nil {
			return seg, nil
		}
		errs = append(errs, fmt.Errorf("seeder fetch failed: %w", err))
	}

	if f.OriginTemplate != "" && ctx.Err() == nil {
		seg, err := v.fetchHTTP(ctx, f.OriginBaseURL, f.OriginTemplate, id, timeout, store.SourceOrigin, originProvider)
		if err == nil {
			return seg, nil
		}
		errs = append(errs, fmt.Errorf("origin fetch failed: %w", err))
	}

	return nil, errors.Join(errs...)
}

func (v *Viewer) fetchHTTP(ctx context.Context, base, template, id string, timeout time.Duration, source store.Source, provider string) (*store.Segment, error) {
	url, err := fetch.BuildSegmentURL(base, template, v.opts.Descriptor, id)
	if err != nil {
		return nil, err
	}
	res, err := v.fetcher.Get(ctx, url, timeout)
	if err != nil {
		return nil, err
	}
	return v.record(id, res, source, provider), nil
}

func (v *Viewer) record(id string, res fetch.Result, source store.Source, provider string) *store.Segment {
	return &store.Segment{
		StreamID:   v.streamID,
		SegmentID:  id,
		Data:       res.Data,
		Size:       len(res.Data),
		LatencyMs:  res.LatencyMs,
		SpeedMbps:  res.SpeedMbps,
		Source:     source,
		Provider:   provider,
		URL:        res.URL,
		ReceivedAt: time.Now(),
	}
}

// jitter returns a random wait in [lo, hi].
func jitter(lo, hi time.Duration) time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo+1)))
}
