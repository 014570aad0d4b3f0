package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"face-scout-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// MatchEvent ist die Nachricht, die bei einem Treffer veröffentlicht wird
type MatchEvent struct {
	VideoID   string    `json:"video_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Names     []string  `json:"names"`
	Sources   []string  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher veröffentlicht Treffer-Ereignisse über MQTT. Bei deaktiviertem
// MQTT sind alle Methoden stille No-Ops.
type Publisher struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected bool
}

// NewPublisher erstellt einen neuen MQTT-Publisher
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	return &Publisher{config: cfg}
}

// Start verbindet den Publisher mit dem Broker
func (p *Publisher) Start() error {
	if !p.config.Enabled {
		log.Info("MQTT publisher is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetOnConnectHandler(p.onConnectHandler)
	opts.SetConnectionLostHandler(p.connectionLostHandler)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	p.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT publisher connected successfully")
	return nil
}

// Stop trennt die Verbindung zum Broker
func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		log.Info("Disconnecting MQTT publisher...")
		p.client.Disconnect(250)
		p.isConnected = false
	}
}

// IsConnected prüft, ob der Publisher verbunden ist
func (p *Publisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

func (p *Publisher) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", p.config.Broker, p.config.Port)
	p.isConnected = true
}

func (p *Publisher) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	p.isConnected = false
}

// PublishMatch veröffentlicht einen Treffer auf dem konfigurierten Topic
func (p *Publisher) PublishMatch(event MatchEvent) error {
	if !p.config.Enabled {
		return nil
	}
	return p.publishMessage(p.config.Topic, event, false)
}

// PublishError veröffentlicht einen Verarbeitungsfehler auf dem
// Fehler-Untertopic
func (p *Publisher) PublishError(videoID, message string) error {
	if !p.config.Enabled {
		return nil
	}
	payload := map[string]string{
		"video_id": videoID,
		"error":    message,
	}
	return p.publishMessage(p.config.Topic+"/errors", payload, false)
}

// publishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (p *Publisher) publishMessage(topic string, payload interface{}, retain bool) error {
	if !p.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	var payloadBytes []byte
	var err error

	switch v := payload.(type) {
	case string:
		payloadBytes = []byte(v)
	case []byte:
		payloadBytes = v
	default:
		payloadBytes, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
	}

	token := p.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}
