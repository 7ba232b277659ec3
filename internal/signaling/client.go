// Package signaling talks to the signaling service over a WebSocket: peer
// discovery, segment reports and the relay of WebRTC negotiation messages.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
	"github.com/rudransh-shrivastava/peer-stream/internal/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotConnected = errors.New("signaling: not connected")
	ErrClosed       = errors.New("signaling: connection closed")
)

const writeTimeout = 5 * time.Second

type Options struct {
	URL        string
	ClientID   string
	Descriptor parser.StreamDescriptor
	Dialer     *websocket.Dialer
	Logger     *logrus.Logger
}

// Report describes a segment the viewer obtained.
type Report struct {
	SegmentID string
	Source    string
	LatencyMs float64
	SpeedMbps float64
}

type Client struct {
	opts   Options
	codec  *protocol.Codec
	router *Router
	group  singleflight.Group
	logger *logrus.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	pending   map[string]chan []protocol.PeerEntry
	done      chan struct{}
}

func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:    opts,
		codec:   protocol.NewCodec(),
		router:  NewRouter(opts.Logger),
		logger:  opts.Logger,
		pending: make(map[string]chan []protocol.PeerEntry),
		done:    make(chan struct{}),
	}
}

func (c *Client) ClientID() string {
	return c.opts.ClientID
}

func (c *Client) StreamID() string {
	return c.opts.Descriptor.StreamID
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers for inbound messages of one kind. A
// protocol.SignalClosed subscriber gets a single Closed event at shutdown.
func (c *Client) Subscribe(kind protocol.SignalType) <-chan protocol.Signal {
	return c.router.Subscribe(kind, defaultSubscriptionBuffer)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parsing signaling url: %w", err)
	}
	q := u.Query()
	q.Set("clientId", c.opts.ClientID)
	q.Set("streamId", c.opts.Descriptor.StreamID)
	if c.opts.Descriptor.MovieID != "" {
		q.Set("movieId", c.opts.Descriptor.MovieID)
	}
	if c.opts.Descriptor.Quality != "" {
		q.Set("qualityId", c.opts.Descriptor.Quality)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the signaling service and starts the read loop. It does
// nothing when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	target, err := c.endpoint()
	if err != nil {
		return err
	}

	conn, _, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dialing signaling server: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Infof("Connected to signaling server %s as %s", c.opts.URL, c.opts.ClientID)
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	reason := "connection closed"
	defer func() { c.shutdown(reason) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("Signaling read ended: %v", err)
			}
			reason = err.Error()
			return
		}

		msg, err := c.codec.DecodeFromBytes(data)
		if err != nil {
			c.logger.Warnf("Discarding signaling message: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Signal) {
	switch m := msg.(type) {
	case *protocol.WhoHasReply:
		c.resolve(m)
	case *protocol.ErrorNotice:
		c.logger.Errorf("Signaling server error: %s", m.Message)
	}
	c.router.Publish(msg)
}

func (c *Client) resolve(reply *protocol.WhoHasReply) {
	if reply.SegmentID == "" {
		c.logger.Warn("WHO_HAS_REPLY without segmentId")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[reply.SegmentID]
	if ok {
		delete(c.pending, reply.SegmentID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debugf("WHO_HAS_REPLY for %s with nothing pending", reply.SegmentID)
		return
	}
	ch <- reply.PeerEntries()
}

// RequestWhoHas asks which peers hold a segment. Concurrent calls for the
// same segment share one request. A timeout yields an empty list, not an
// error.
func (c *Client) RequestWhoHas(ctx context.Context, segmentID string, timeout time.Duration) ([]protocol.PeerEntry, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	resCh := c.group.DoChan(segmentID, func() (interface{}, error) {
		return c.whoHas(segmentID, timeout)
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]protocol.PeerEntry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) whoHas(segmentID string, timeout time.Duration) ([]protocol.PeerEntry, error) {
	ch := make(chan []protocol.PeerEntry, 1)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[segmentID] = ch
	c.mu.Unlock()

	err := c.send(&protocol.WhoHas{
		StreamID:  c.opts.Descriptor.StreamID,
		SegmentID: segmentID,
		MovieID:   c.opts.Descriptor.MovieID,
		QualityID: c.opts.Descriptor.Quality,
	})
	if err != nil {
		c.forget(segmentID, ch)
		return nil, fmt.Errorf("sending WHO_HAS for %s: %w", segmentID, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case peers, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return peers, nil
	case <-timer.C:
		c.forget(segmentID, ch)
		return []protocol.PeerEntry{}, nil
	}
}

func (c *Client) forget(segmentID string, ch chan []protocol.PeerEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[segmentID] == ch {
		delete(c.pending, segmentID)
	}
}

// ReportSegment tells the signaling service a segment was obtained. Failures
// are only logged.
func (c *Client) ReportSegment(r Report) {
	if !c.IsConnected() {
		return
	}

	speed := r.SpeedMbps
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		speed = 0
	}
	err := c.send(&protocol.ReportSegment{
		StreamID:  c.opts.Descriptor.StreamID,
		SegmentID: r.SegmentID,
		Source:    r.Source,
		Latency:   int64(math.Round(r.LatencyMs)),
		Speed:     math.Round(speed*1000) / 1000,
		MovieID:   c.opts.Descriptor.MovieID,
		QualityID: c.opts.Descriptor.Quality,
	})
	if err != nil {
		c.logger.Warnf("Failed to report segment %s: %v", r.SegmentID, err)
	}
}

func (c *Client) SendOffer(to, sdp string) error {
	return c.send(&protocol.RTCOffer{From: c.opts.ClientID, To: to, StreamID: c.opts.Descriptor.StreamID, SDP: sdp})
}

func (c *Client) SendAnswer(to, sdp string) error {
	return c.send(&protocol.RTCAnswer{From: c.opts.ClientID, To: to, StreamID: c.opts.Descriptor.StreamID, SDP: sdp})
}

func (c *Client) SendICECandidate(to string, candidate json.RawMessage) error {
	return c.send(&protocol.ICECandidate{
		From:      c.opts.ClientID,
		To:        to,
		StreamID:  c.opts.Descriptor.StreamID,
		Candidate: candidate,
	})
}

func (c *Client) send(msg protocol.Signal) error {
	data, err := c.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the connection. Pending discoveries fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "viewer closing"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	c.shutdown("client closed")
	return nil
}

func (c *Client) shutdown(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	pending := c.pending
	c.pending = make(map[string]chan []protocol.PeerEntry)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, ch := range pending {
		close(ch)
	}

	c.logger.Infof("Signaling connection closed: %s", reason)
	c.router.Publish(&protocol.Closed{Reason: reason})
	c.router.Close()
	close(c.done)
}
