package webrtc

import "github.com/pion/webrtc/v3"

const (
	dataChannelLabel = "segments"

	// maxBufferedAmount is how much may sit in a data channel send buffer
	// before Send waits for it to drain.
	maxBufferedAmount = 512 * 1024
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// NewConfiguration builds a peer connection configuration with one ICE
// server entry per URL. An empty list uses DefaultSTUNServers.
func NewConfiguration(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	servers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
	}
}
