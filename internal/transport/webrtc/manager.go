// Package webrtc connects viewers of the same stream over WebRTC data
// channels, negotiated through the signaling service.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
	"github.com/rudransh-shrivastava/peer-stream/internal/transport"
	"github.com/sirupsen/logrus"
)

var ErrUnknownPeer = errors.New("no open data channel to peer")

const eventBuffer = 64

// Signaler relays negotiation messages to other peers.
type Signaler interface {
	ClientID() string
	Subscribe(kind protocol.SignalType) <-chan protocol.Signal
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendICECandidate(to string, candidate json.RawMessage) error
}

type Options struct {
	Signaler    Signaler
	STUNServers []string
	// Configuration replaces the configuration built from STUNServers.
	Configuration *webrtc.Configuration
	ChunkSize     int
	Logger        *logrus.Logger
}

type peer struct {
	id          string
	pc          *webrtc.PeerConnection
	reassembler *transport.Reassembler

	mu sync.Mutex
	ch *channel
	// Local candidates wait until our offer or answer is out, remote ones
	// until the remote description is set.
	described bool
	outbound  []json.RawMessage
	inbound   []webrtc.ICECandidateInit
}

func (p *peer) channel() *channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

type Manager struct {
	config    webrtc.Configuration
	signaler  Signaler
	selfID    string
	chunkSize int
	logger    *logrus.Logger

	mu    sync.RWMutex
	peers map[string]*peer

	segments chan transport.SegmentEvent
	requests chan transport.RequestEvent

	closeOnce sync.Once
	done      chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	config := NewConfiguration(opts.STUNServers)
	if opts.Configuration != nil {
		config = *opts.Configuration
	}
	return &Manager{
		config:    config,
		signaler:  opts.Signaler,
		selfID:    opts.Signaler.ClientID(),
		chunkSize: opts.ChunkSize,
		logger:    opts.Logger,
		peers:     make(map[string]*peer),
		segments:  make(chan transport.SegmentEvent, eventBuffer),
		requests:  make(chan transport.RequestEvent, eventBuffer),
		done:      make(chan struct{}),
	}
}

// Segments delivers segments reassembled from any peer.
func (m *Manager) Segments() <-chan transport.SegmentEvent {
	return m.segments
}

// Requests delivers segment requests from peers.
func (m *Manager) Requests() <-chan transport.RequestEvent {
	return m.requests
}

// Start subscribes to negotiation messages and handles them until ctx is
// done, the manager closes or the signaling subscriptions end.
func (m *Manager) Start(ctx context.Context) {
	peerLists := m.signaler.Subscribe(protocol.SignalPeerList)
	offers := m.signaler.Subscribe(protocol.SignalRTCOffer)
	answers := m.signaler.Subscribe(protocol.SignalRTCAnswer)
	candidates := m.signaler.Subscribe(protocol.SignalICECandidate)

	go func() {
		for peerLists != nil || offers != nil || answers != nil || candidates != nil {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case msg, ok := <-peerLists:
				if !ok {
					peerLists = nil
					continue
				}
				if list, ok := msg.(*protocol.PeerList); ok {
					m.handlePeerList(list)
				}
			case msg, ok := <-offers:
				if !ok {
					offers = nil
					continue
				}
				if offer, ok := msg.(*protocol.RTCOffer); ok {
					m.handleOffer(offer)
				}
			case msg, ok := <-answers:
				if !ok {
					answers = nil
					continue
				}
				if answer, ok := msg.(*protocol.RTCAnswer); ok {
					m.handleAnswer(answer)
				}
			case msg, ok := <-candidates:
				if !ok {
					candidates = nil
					continue
				}
				if cand, ok := msg.(*protocol.ICECandidate); ok {
					m.handleCandidate(cand)
				}
			}
		}
	}()
}

func (m *Manager) handlePeerList(list *protocol.PeerList) {
	for _, id := range list.Peers {
		if id == "" || id == m.selfID || m.known(id) {
			continue
		}
		if err := m.offer(id); err != nil {
			m.logger.Errorf("Failed to offer to %s: %v", id, err)
		}
	}
}

func (m *Manager) offer(peerID string) error {
	p, created, err := m.ensurePeer(peerID, true)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := m.signaler.SendOffer(peerID, offer.SDP); err != nil {
		return fmt.Errorf("sending offer: %w", err)
	}
	m.logger.Infof("RTC offer sent to %s", peerID)
	m.flushOutbound(p)
	return nil
}

func (m *Manager) handleOffer(msg *protocol.RTCOffer) {
	if msg.From == "" || msg.From == m.selfID {
		return
	}

	m.mu.Lock()
	existing, ok := m.peers[msg.From]
	if ok && existing.pc.SignalingState() != webrtc.SignalingStateStable {
		// Both sides offered. The lower id keeps its own offer.
		if m.selfID < msg.From {
			m.mu.Unlock()
			m.logger.Debugf("Ignoring crossing offer from %s", msg.From)
			return
		}
		delete(m.peers, msg.From)
		go existing.pc.Close()
	}
	m.mu.Unlock()

	p, _, err := m.ensurePeer(msg.From, false)
	if err != nil {
		m.logger.Errorf("RTC offer from %s failed: %v", msg.From, err)
		return
	}

	if err := m.setRemote(p, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
		m.logger.Errorf("RTC offer from %s failed: %v", msg.From, err)
		return
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		m.logger.Errorf("Creating answer for %s failed: %v", msg.From, err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		m.logger.Errorf("Setting answer for %s failed: %v", msg.From, err)
		return
	}
	if err := m.signaler.SendAnswer(msg.From, answer.SDP); err != nil {
		m.logger.Errorf("Sending answer to %s failed: %v", msg.From, err)
		return
	}
	m.logger.Infof("RTC answer sent to %s", msg.From)
	m.flushOutbound(p)
}

func (m *Manager) handleAnswer(msg *protocol.RTCAnswer) {
	if msg.From == "" || msg.From == m.selfID {
		return
	}
	p := m.peer(msg.From)
	if p == nil {
		return
	}
	if err := m.setRemote(p, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
		m.logger.Warnf("RTC answer from %s failed: %v", msg.From, err)
	}
}

func (m *Manager) handleCandidate(msg *protocol.ICECandidate) {
	if msg.From == "" || msg.From == m.selfID {
		return
	}
	p := m.peer(msg.From)
	if p == nil {
		return
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &init); err != nil {
		m.logger.Warnf("Bad ICE candidate from %s: %v", msg.From, err)
		return
	}

	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.inbound = append(p.inbound, init)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		m.logger.Warnf("Adding ICE candidate from %s failed: %v", msg.From, err)
	}
}

// setRemote applies a remote description and any candidates that arrived
// ahead of it.
func (m *Manager) setRemote(p *peer, desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	p.mu.Lock()
	queued := p.inbound
	p.inbound = nil
	p.mu.Unlock()

	for _, init := range queued {
		if err := p.pc.AddICECandidate(init); err != nil {
			m.logger.Warnf("Adding ICE candidate from %s failed: %v", p.id, err)
		}
	}
	return nil
}

func (m *Manager) flushOutbound(p *peer) {
	p.mu.Lock()
	p.described = true
	queued := p.outbound
	p.outbound = nil
	p.mu.Unlock()

	for _, cand := range queued {
		if err := m.signaler.SendICECandidate(p.id, cand); err != nil {
			m.logger.Warnf("Sending ICE candidate to %s failed: %v", p.id, err)
		}
	}
}

func (m *Manager) known(peerID string) bool {
	return m.peer(peerID) != nil
}

func (m *Manager) peer(peerID string) *peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[peerID]
}

// ensurePeer returns the peer for id, creating its connection if needed.
func (m *Manager) ensurePeer(peerID string, initiator bool) (*peer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[peerID]; ok {
		return p, false, nil
	}

	pc, err := webrtc.NewPeerConnection(m.config)
	if err != nil {
		return nil, false, fmt.Errorf("creating peer connection: %w", err)
	}
	p := &peer{id: peerID, pc: pc, reassembler: transport.NewReassembler()}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		p.mu.Lock()
		if !p.described {
			p.outbound = append(p.outbound, raw)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		if err := m.signaler.SendICECandidate(peerID, raw); err != nil {
			m.logger.Warnf("Sending ICE candidate to %s failed: %v", peerID, err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.logger.Infof("RTC(%s)=%s", peerID, s)
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			m.evict(p)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.attachChannel(p, dc)
	})

	if initiator {
		dc, err := pc.CreateDataChannel(dataChannelLabel, DefaultDataChannelConfig())
		if err != nil {
			_ = pc.Close()
			return nil, false, fmt.Errorf("creating data channel: %w", err)
		}
		m.attachChannel(p, dc)
	}

	m.peers[peerID] = p
	return p, true, nil
}

func (m *Manager) evict(p *peer) {
	m.mu.Lock()
	if m.peers[p.id] == p {
		delete(m.peers, p.id)
	}
	m.mu.Unlock()

	if ch := p.channel(); ch != nil {
		ch.markClosed()
	}
	p.reassembler.Reset()
	go p.pc.Close()
}

func (m *Manager) attachChannel(p *peer, dc *webrtc.DataChannel) {
	ch := newChannel(p.id, dc)
	p.mu.Lock()
	p.ch = ch
	p.mu.Unlock()

	dc.OnOpen(func() {
		m.logger.Infof("Data channel open to %s", p.id)
	})
	dc.OnClose(func() {
		m.logger.Warnf("Data channel closed to %s", p.id)
		ch.markClosed()
		p.reassembler.Reset()
	})
	dc.OnError(func(err error) {
		m.logger.Errorf("Data channel error with %s: %v", p.id, err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			m.logger.Debugf("Ignoring text message from %s", p.id)
			return
		}
		m.handleFrame(p, ch, msg.Data)
	})
}

func (m *Manager) handleFrame(p *peer, ch *channel, data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		m.logger.Warnf("Bad frame from %s: %v", p.id, err)
		return
	}

	switch frame.Type {
	case protocol.FrameChunk:
		segment, complete, err := p.reassembler.Accept(frame)
		if err != nil {
			m.logger.Warnf("Dropping chunk from %s: %v", p.id, err)
			return
		}
		if complete {
			m.emitSegment(transport.SegmentEvent{PeerID: p.id, SegmentID: frame.SegmentID, Data: segment})
		}
	case protocol.FrameDone:
	case protocol.FrameRequest:
		m.emitRequest(transport.RequestEvent{PeerID: p.id, SegmentID: frame.SegmentID, Channel: ch})
	}
}

func (m *Manager) emitSegment(ev transport.SegmentEvent) {
	select {
	case m.segments <- ev:
	case <-m.done:
	}
}

func (m *Manager) emitRequest(ev transport.RequestEvent) {
	select {
	case m.requests <- ev:
	case <-m.done:
	}
}

// Peers lists peers with an open data channel.
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.peers))
	for id, p := range m.peers {
		if ch := p.channel(); ch != nil && ch.IsOpen() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) IsOpen(peerID string) bool {
	p := m.peer(peerID)
	if p == nil {
		return false
	}
	ch := p.channel()
	return ch != nil && ch.IsOpen()
}

func (m *Manager) openChannels() []transport.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channels := make([]transport.Channel, 0, len(m.peers))
	for _, p := range m.peers {
		if ch := p.channel(); ch != nil {
			channels = append(channels, ch)
		}
	}
	return channels
}

// RequestSegment asks every connected peer for a segment. Nothing tracks
// the request, a peer holding it just pushes it back.
func (m *Manager) RequestSegment(segmentID string) {
	sent, err := transport.RequestSegment(m.openChannels(), segmentID)
	if err != nil {
		m.logger.Warnf("Cannot request %s: %v", segmentID, err)
		return
	}
	if sent > 0 {
		m.logger.Debugf("Requested %s from %d peers", segmentID, sent)
	}
}

// RequestSegmentFrom asks one peer for a segment.
func (m *Manager) RequestSegmentFrom(peerID, segmentID string) error {
	p := m.peer(peerID)
	if p == nil {
		return ErrUnknownPeer
	}
	ch := p.channel()
	if ch == nil || !ch.IsOpen() {
		return ErrUnknownPeer
	}
	frame, err := protocol.EncodeRequest(segmentID)
	if err != nil {
		return err
	}
	return ch.Send(frame)
}

// SendSegment pushes a segment to a peer. Failures are logged and not
// retried.
func (m *Manager) SendSegment(ch transport.Channel, segmentID string, data []byte) error {
	err := transport.SendSegment(ch, segmentID, data, m.chunkSize)
	if err != nil {
		m.logger.Debugf("Sending %s to %s stopped: %v", segmentID, ch.PeerID(), err)
	}
	return err
}

// Close tears down every peer connection.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*peer)
	m.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if ch := p.channel(); ch != nil {
			ch.markClosed()
		}
		if err := p.pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
