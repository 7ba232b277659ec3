package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hub relays negotiation messages between in-process signalers.
type hub struct {
	mu    sync.Mutex
	nodes map[string]*hubSignaler
}

func newHub() *hub {
	return &hub{nodes: make(map[string]*hubSignaler)}
}

func (h *hub) join(id string) *hubSignaler {
	s := &hubSignaler{id: id, hub: h, subs: make(map[protocol.SignalType]chan protocol.Signal)}
	h.mu.Lock()
	h.nodes[id] = s
	h.mu.Unlock()
	return s
}

func (h *hub) deliver(to string, msg protocol.Signal) error {
	h.mu.Lock()
	node := h.nodes[to]
	h.mu.Unlock()
	if node != nil {
		node.push(msg)
	}
	return nil
}

type hubSignaler struct {
	id  string
	hub *hub

	mu   sync.Mutex
	subs map[protocol.SignalType]chan protocol.Signal
}

func (s *hubSignaler) ClientID() string { return s.id }

func (s *hubSignaler) Subscribe(kind protocol.SignalType) <-chan protocol.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan protocol.Signal, 256)
	s.subs[kind] = ch
	return ch
}

func (s *hubSignaler) push(msg protocol.Signal) {
	s.mu.Lock()
	ch := s.subs[msg.Kind()]
	s.mu.Unlock()
	if ch != nil {
		ch <- msg
	}
}

func (s *hubSignaler) SendOffer(to, sdp string) error {
	return s.hub.deliver(to, &protocol.RTCOffer{From: s.id, To: to, SDP: sdp})
}

func (s *hubSignaler) SendAnswer(to, sdp string) error {
	return s.hub.deliver(to, &protocol.RTCAnswer{From: s.id, To: to, SDP: sdp})
}

func (s *hubSignaler) SendICECandidate(to string, candidate json.RawMessage) error {
	return s.hub.deliver(to, &protocol.ICECandidate{From: s.id, To: to, Candidate: candidate})
}

func newTestManager(t *testing.T, s Signaler) *Manager {
	t.Helper()
	m := NewManager(Options{
		Signaler:      s,
		Configuration: &webrtc.Configuration{},
		ChunkSize:     16 * 1024,
		Logger:        logger.Discard(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = m.Close()
	})
	return m
}

func TestManager_ExchangeSegment(t *testing.T) {
	h := newHub()
	sigA, sigB := h.join("viewer-a"), h.join("viewer-b")
	a := newTestManager(t, sigA)
	b := newTestManager(t, sigB)

	sigA.push(&protocol.PeerList{Peers: []string{"viewer-a", "viewer-b"}})

	require.Eventually(t, func() bool {
		return a.IsOpen("viewer-b") && b.IsOpen("viewer-a")
	}, 15*time.Second, 50*time.Millisecond, "data channels did not open")
	assert.Equal(t, []string{"viewer-b"}, a.Peers())

	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 40_000)
	require.NoError(t, a.RequestSegmentFrom("viewer-b", "seg-7"))

	select {
	case req := <-b.Requests():
		assert.Equal(t, "viewer-a", req.PeerID)
		assert.Equal(t, "seg-7", req.SegmentID)
		require.NoError(t, b.SendSegment(req.Channel, req.SegmentID, data))
	case <-time.After(5 * time.Second):
		t.Fatal("request did not arrive")
	}

	select {
	case seg := <-a.Segments():
		assert.Equal(t, "viewer-b", seg.PeerID)
		assert.Equal(t, "seg-7", seg.SegmentID)
		assert.True(t, bytes.Equal(data, seg.Data), "segment data mismatch")
	case <-time.After(5 * time.Second):
		t.Fatal("segment did not arrive")
	}
}

func TestManager_IgnoresSelfAndUnknown(t *testing.T) {
	h := newHub()
	sig := h.join("viewer-a")
	m := newTestManager(t, sig)

	sig.push(&protocol.PeerList{Peers: []string{"viewer-a"}})
	sig.push(&protocol.RTCOffer{From: "viewer-a", SDP: "bogus"})
	sig.push(&protocol.RTCAnswer{From: "stranger", SDP: "bogus"})
	sig.push(&protocol.ICECandidate{From: "stranger", Candidate: json.RawMessage(`{}`)})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, m.Peers())
	assert.False(t, m.known("viewer-a"))
	assert.False(t, m.known("stranger"))
	assert.ErrorIs(t, m.RequestSegmentFrom("stranger", "seg"), ErrUnknownPeer)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := NewManager(Options{Signaler: newHub().join("x"), Logger: logger.Discard()})
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
