package viewer

import (
	"context"
	"slices"

	"github.com/rudransh-shrivastava/peer-stream/internal/store"
)

type scheduleOptions struct {
	// Force skips peer discovery and goes straight to the fallback tiers.
	Force  bool
	Reason string
}

// scheduleSegment starts fetching id unless it is cached or already being
// fetched. At most one task per segment exists at any time.
func (v *Viewer) scheduleSegment(ctx context.Context, id string, opts scheduleOptions) *task {
	if seg, ok := v.cache.Get(v.streamID, id); ok {
		v.enqueue(seg)
		return completed(seg)
	}

	if v.transport != nil {
		v.transport.RequestSegment(id)
	}

	v.mu.Lock()
	if t, ok := v.fetchQueue[id]; ok {
		v.mu.Unlock()
		return t
	}
	t := &task{done: make(chan struct{})}
	v.fetchQueue[id] = t
	v.metrics.SetInflight(len(v.fetchQueue))
	v.mu.Unlock()

	go func() {
		seg, err := v.fetchSegment(ctx, id, opts)

		v.mu.Lock()
		delete(v.fetchQueue, id)
		v.metrics.SetInflight(len(v.fetchQueue))
		v.mu.Unlock()

		if err != nil {
			if ctx.Err() == nil {
				v.logger.Errorf("Failed to fetch segment %s: %v", id, err)
				v.metrics.IncFetchFailures()
			}
			v.requeue(id)
		} else {
			v.enqueue(seg)
		}

		t.seg, t.err = seg, err
		close(t.done)
	}()
	return t
}

// enqueue parks seg until every earlier playlist position is ready, then
// moves the ready prefix into the playback buffer.
func (v *Viewer) enqueue(seg *store.Segment) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[seg.SegmentID]
	if !ok {
		v.logger.Debugf("Segment %s is not in the playlist, kept in cache only", seg.SegmentID)
		return
	}
	if pos < v.fillCursor {
		return
	}

	v.pending[seg.SegmentID] = seg
	for v.fillCursor < len(v.playlist) {
		next := v.playlist[v.fillCursor]
		ready, ok := v.pending[next]
		if !ok {
			break
		}
		delete(v.pending, next)
		v.buffer.Push(ready)
		v.fillCursor++
	}
	v.metrics.SetBuffered(v.buffer.Size())
}

// requeue puts a failed segment at the front of the retry queue unless it
// is being fetched, already ready or already queued.
func (v *Viewer) requeue(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[id]
	if !ok || pos < v.fillCursor {
		return
	}
	if _, ok := v.fetchQueue[id]; ok {
		return
	}
	if _, ok := v.pending[id]; ok {
		return
	}
	if slices.Contains(v.retryQueue, id) {
		return
	}
	v.retryQueue = slices.Insert(v.retryQueue, 0, id)
}

func (v *Viewer) nextSegmentID() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.retryQueue) > 0 {
		id := v.retryQueue[0]
		v.retryQueue = v.retryQueue[1:]
		return id, true
	}
	if v.fetchCursor >= len(v.playlist) {
		return "", false
	}
	id := v.playlist[v.fetchCursor]
	v.fetchCursor++
	return id, true
}

// levels returns the buffered, pending and in-flight counts.
func (v *Viewer) levels() (int, int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.buffer.Size(), len(v.pending), len(v.fetchQueue)
}

// exhausted reports whether no segment is left to fetch or wait for.
func (v *Viewer) exhausted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.fetchQueue) == 0 &&
		len(v.pending) == 0 &&
		len(v.retryQueue) == 0 &&
		v.fetchCursor >= len(v.playlist)
}

func (v *Viewer) initialPrefetch(ctx context.Context) error {
	target := v.opts.Playback.MinBufferPrefetch
	for {
		buffered, pending, inflight := v.levels()
		if buffered+pending >= target {
			return nil
		}
		id, ok := v.nextSegmentID()
		if !ok {
			return nil
		}

		var opts scheduleOptions
		if buffered == 0 && pending == 0 && inflight == 0 {
			opts = scheduleOptions{Force: true, Reason: "initial-prefetch"}
		}
		if _, err := v.scheduleSegment(ctx, id, opts).wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			v.requeue(id)
			v.logger.Debugf("Retry queued for segment %s: %v", id, err)
			if err := sleep(ctx, prefetchBackoff); err != nil {
				return err
			}
		}
	}
}

// ensureBufferLevels refills the buffer before each playback step. Below
// the critical threshold it blocks on one forced fetch, then it tops up the
// pipeline without waiting.
func (v *Viewer) ensureBufferLevels(ctx context.Context) error {
	p := v.opts.Playback

	if v.buffer.Size() < p.CriticalBufferThreshold {
		if id, ok := v.nextSegmentID(); ok {
			_, err := v.scheduleSegment(ctx, id, scheduleOptions{Force: true, Reason: "critical-buffer"}).wait(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				v.requeue(id)
				v.logger.Debugf("Force fallback retry queued for segment %s: %v", id, err)
				if err := sleep(ctx, criticalBackoff); err != nil {
					return err
				}
			}
		}
	}

	for {
		buffered, pending, inflight := v.levels()
		total := buffered + pending + inflight
		if total >= p.MinBufferPrefetch {
			return nil
		}
		id, ok := v.nextSegmentID()
		if !ok {
			return nil
		}

		var opts scheduleOptions
		if total <= p.CriticalBufferThreshold {
			opts = scheduleOptions{Force: true, Reason: "prefetch-low-buffer"}
		}
		v.scheduleSegment(ctx, id, opts)
	}
}

func (v *Viewer) play(ctx context.Context) error {
	for {
		v.mu.Lock()
		done := v.playCursor >= len(v.playlist)
		v.mu.Unlock()
		if done {
			return nil
		}

		if err := v.ensureBufferLevels(ctx); err != nil {
			return err
		}

		seg, ok := v.buffer.Shift()
		if !ok {
			if v.exhausted() {
				return nil
			}
			if err := sleep(ctx, v.opts.IdleWait); err != nil {
				return err
			}
			continue
		}

		v.mu.Lock()
		v.playCursor++
		position := v.playCursor
		v.mu.Unlock()

		remaining := v.buffer.Size()
		v.metrics.IncPlayed()
		v.metrics.SetBuffered(remaining)
		v.logger.Infof("Playback segment %s via %s (buffer=%d)", seg.SegmentID, seg.Source, remaining)
		if v.opts.OnPlay != nil {
			v.opts.OnPlay(seg, position)
		}

		if err := sleep(ctx, v.opts.Playback.SegmentDuration); err != nil {
			return err
		}
	}
}
