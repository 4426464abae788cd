// Package mqtt publishes test progress and accepted samples to an MQTT
// broker.
//
// Messages are JSON envelopes published to "{prefix}/{runID}/progress" and
// "{prefix}/{runID}/samples", so several concurrent runs can share a broker.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/kabili207/lnatest/record"
)

// Compile-time interface check.
var _ record.Sink = (*Publisher)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "lnatest"

	// DefaultPublishTimeout bounds each publish.
	DefaultPublishTimeout = 10 * time.Second

	TopicProgress = "progress"
	TopicSamples  = "samples"
	TopicLog      = "log"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrPublishTimeout = errors.New("timeout publishing to MQTT")
)

// Config holds the configuration for a Publisher.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "lnatest").
	TopicPrefix string
	// RunID is the topic segment identifying this run. If empty, a random
	// UUID is generated.
	RunID string
	// Retain marks progress messages as retained so late subscribers see
	// the latest snapshot.
	Retain bool
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Envelope wraps every published payload.
type Envelope struct {
	RunID string          `json:"run_id"`
	Time  time.Time       `json:"time"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// Publisher publishes JSON envelopes over MQTT. It implements record.Sink
// for accepted samples.
type Publisher struct {
	cfg       Config
	client    paho.Client
	log       *slog.Logger
	mu        sync.RWMutex
	connected bool
	nowFn     func() time.Time
}

// New creates a new Publisher with the given configuration.
func New(cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Publisher{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup("mqtt"),
		nowFn: time.Now,
	}
}

// RunID returns the run identifier used in topics and envelopes.
func (p *Publisher) RunID() string {
	return p.cfg.RunID
}

// Topic returns the full topic for kind.
func (p *Publisher) Topic(kind string) string {
	return p.cfg.TopicPrefix + "/" + p.cfg.RunID + "/" + kind
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	if p.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "lnatest-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(p.onConnected).
		SetConnectionLostHandler(p.onConnectionLost).
		SetReconnectingHandler(p.onReconnecting)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	p.mu.Lock()
	p.client = paho.NewClient(opts)
	client := p.client
	p.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Disconnect(1000)
		p.connected = false
	}
	return nil
}

// IsConnected returns true if the publisher is connected to the broker.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// PublishProgress publishes a progress snapshot.
func (p *Publisher) PublishProgress(v any) error {
	return p.publish(TopicProgress, v, p.cfg.Retain)
}

// PublishLog publishes one formatted log line.
func (p *Publisher) PublishLog(line string) error {
	return p.publish(TopicLog, line, false)
}

// Append publishes an accepted sample.
func (p *Publisher) Append(r record.Record) error {
	return p.publish(TopicSamples, r, false)
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	return p.Stop()
}

func (p *Publisher) encode(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kind, err)
	}
	return json.Marshal(Envelope{
		RunID: p.cfg.RunID,
		Time:  p.nowFn().UTC(),
		Kind:  kind,
		Data:  data,
	})
}

func (p *Publisher) publish(kind string, v any, retain bool) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	payload, err := p.encode(kind, v)
	if err != nil {
		return err
	}

	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	token := client.Publish(p.Topic(kind), 0, retain, payload)
	if !token.WaitTimeout(DefaultPublishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *Publisher) onConnected(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.log.Info("connected to MQTT broker", "broker", p.cfg.Broker, "run_id", p.cfg.RunID)
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.log.Error("MQTT connection lost", "error", err)
}

func (p *Publisher) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	p.log.Info("reconnecting to MQTT broker")
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
