package webrtc

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-stream/internal/transport"
)

const drainTimeout = 10 * time.Second

var ErrSendStalled = errors.New("data channel send buffer did not drain")

// channel adapts a pion data channel to transport.Channel and holds Send
// back while the send buffer is over maxBufferedAmount.
type channel struct {
	peerID  string
	dc      *webrtc.DataChannel
	drained chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newChannel(peerID string, dc *webrtc.DataChannel) *channel {
	c := &channel{
		peerID:  peerID,
		dc:      dc,
		drained: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	dc.SetBufferedAmountLowThreshold(maxBufferedAmount)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.drained <- struct{}{}:
		default:
		}
	})
	return c
}

func (c *channel) PeerID() string {
	return c.peerID
}

func (c *channel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *channel) Send(data []byte) error {
	for c.dc.BufferedAmount() > maxBufferedAmount {
		select {
		case <-c.drained:
		case <-c.closed:
			return transport.ErrChannelClosed
		case <-time.After(drainTimeout):
			return ErrSendStalled
		}
	}
	return c.dc.Send(data)
}

func (c *channel) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}
