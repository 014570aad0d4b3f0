package notify

import (
	"testing"
	"time"

	"face-scout-go/config"
)

func TestDisabledPublisherIsNoOp(t *testing.T) {
	p := NewPublisher(config.MQTTConfig{Enabled: false})

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed for disabled publisher: %v", err)
	}
	if p.IsConnected() {
		t.Error("disabled publisher must not report a connection")
	}

	event := MatchEvent{
		VideoID:   "vid1",
		URL:       "https://www.youtube.com/watch?v=vid1",
		Names:     []string{"anna"},
		Sources:   []string{"thumbnail"},
		Timestamp: time.Now(),
	}
	if err := p.PublishMatch(event); err != nil {
		t.Errorf("PublishMatch must be a no-op when disabled, got %v", err)
	}
	if err := p.PublishError("vid1", "download failed"); err != nil {
		t.Errorf("PublishError must be a no-op when disabled, got %v", err)
	}

	p.Stop()
}

func TestPublishWithoutConnection(t *testing.T) {
	p := NewPublisher(config.MQTTConfig{
		Enabled: true,
		Broker:  "localhost",
		Port:    1883,
		Topic:   "face-scout/matches",
	})

	// Start was never called, so publishing must fail cleanly
	if err := p.PublishMatch(MatchEvent{VideoID: "vid1"}); err == nil {
		t.Error("expected error when publishing without a connection")
	}
}
