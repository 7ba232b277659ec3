package viewer

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-stream/internal/store"
	"github.com/rudransh-shrivastava/peer-stream/internal/transport"
)

// serve handles segments pushed by peers and requests from peers until ctx
// is done.
func (v *Viewer) serve(ctx context.Context) {
	segments := v.transport.Segments()
	requests := v.transport.Requests()

	for segments != nil || requests != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-segments:
			if !ok {
				segments = nil
				continue
			}
			v.acceptPeerSegment(ctx, ev)
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			v.answerPeerRequest(req)
		}
	}
}

func (v *Viewer) acceptPeerSegment(ctx context.Context, ev transport.SegmentEvent) {
	seg := &store.Segment{
		StreamID:   v.streamID,
		SegmentID:  ev.SegmentID,
		Data:       ev.Data,
		Size:       len(ev.Data),
		Source:     store.SourcePeerDataChannel,
		Provider:   ev.PeerID,
		URL:        dataChannelEndpoint,
		ReceivedAt: time.Now(),
	}
	if _, err := v.cache.Put(ctx, seg); err != nil {
		v.logger.Warnf("Could not persist segment %s: %v", ev.SegmentID, err)
	}
	v.enqueue(seg)
	v.wake(ev)
	v.logger.Infof("Received complete segment %s via WebRTC from %s", ev.SegmentID, ev.PeerID)
}

func (v *Viewer) answerPeerRequest(req transport.RequestEvent) {
	seg, ok := v.cache.Get(v.streamID, req.SegmentID)
	if !ok || req.Channel == nil || !req.Channel.IsOpen() {
		return
	}
	go func() {
		if err := v.transport.SendSegment(req.Channel, req.SegmentID, seg.Data); err != nil {
			return
		}
		v.metrics.IncServed()
		v.logger.Debugf("Pushed segment %s to %s via WebRTC", req.SegmentID, req.PeerID)
	}()
}

func (v *Viewer) addWaiter(id string) chan transport.SegmentEvent {
	ch := make(chan transport.SegmentEvent, 1)
	v.waitMu.Lock()
	v.waiters[id] = append(v.waiters[id], ch)
	v.waitMu.Unlock()
	return ch
}

func (v *Viewer) removeWaiter(id string, ch chan transport.SegmentEvent) {
	v.waitMu.Lock()
	defer v.waitMu.Unlock()
	list := v.waiters[id]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(v.waiters, id)
	} else {
		v.waiters[id] = list
	}
}

func (v *Viewer) wake(ev transport.SegmentEvent) {
	v.waitMu.Lock()
	defer v.waitMu.Unlock()
	for _, ch := range v.waiters[ev.SegmentID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
