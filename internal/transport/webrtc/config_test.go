package webrtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
)

func TestNewConfiguration(t *testing.T) {
	config := NewConfiguration(nil)

	if len(config.ICEServers) != len(DefaultSTUNServers) {
		t.Fatalf("expected %d ICE servers, got %d", len(DefaultSTUNServers), len(config.ICEServers))
	}
	if config.ICEServers[1].URLs[0] != "stun:global.stun.twilio.com:3478" {
		t.Errorf("unexpected ICE server %v", config.ICEServers[1].URLs)
	}
	if config.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Errorf("expected ICETransportPolicyAll")
	}

	custom := NewConfiguration([]string{"stun:example.org:3478"})
	if len(custom.ICEServers) != 1 || custom.ICEServers[0].URLs[0] != "stun:example.org:3478" {
		t.Errorf("expected custom server, got %+v", custom.ICEServers)
	}
}

func TestDefaultDataChannelConfig(t *testing.T) {
	config := DefaultDataChannelConfig()

	if config.Ordered == nil || !*config.Ordered {
		t.Error("expected Ordered to be true")
	}

	if config.MaxRetransmits != nil {
		t.Error("expected MaxRetransmits to be nil (unlimited)")
	}
}
