package signaling

import (
	"testing"

	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
)

func TestRouter_DropsWhenFull(t *testing.T) {
	r := NewRouter(logger.Discard())
	ch := r.Subscribe(protocol.SignalReportAck, 1)
	other := r.Subscribe(protocol.SignalPeerList, 1)

	r.Publish(&protocol.ReportAck{SegmentID: "a"})
	r.Publish(&protocol.ReportAck{SegmentID: "b"})

	if got := len(ch); got != 1 {
		t.Fatalf("expected 1 buffered event, got %d", got)
	}
	if ev := <-ch; ev.(*protocol.ReportAck).SegmentID != "a" {
		t.Errorf("expected first event to be kept, got %+v", ev)
	}
	if len(other) != 0 {
		t.Error("peer_list subscriber should not receive acks")
	}
}

func TestRouter_Close(t *testing.T) {
	r := NewRouter(logger.Discard())
	ch := r.Subscribe(protocol.SignalPeerList, 0)
	r.Close()
	r.Close()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	r.Publish(&protocol.PeerList{})

	late := r.Subscribe(protocol.SignalPeerList, 0)
	if _, ok := <-late; ok {
		t.Error("subscribing after close should yield a closed channel")
	}
}
