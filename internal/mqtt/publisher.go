package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"signwatch/internal/config"
	"signwatch/internal/logging"
	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

const connectTimeout = 5 * time.Second

// client is the part of paho.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// DetectionMessage is the frame summary published per emitted frame
type DetectionMessage struct {
	Seq        uint64      `json:"seq"`
	Timestamp  time.Time   `json:"timestamp"`
	Count      int         `json:"count"`
	Detections []Detection `json:"detections"`
}

// Detection is one detection without image data
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// Publisher forwards detections and violations to an MQTT broker. Frames
// are published at QoS 0 and violations at QoS 1; neither waits for the
// broker.
type Publisher struct {
	client client
	prefix string
	log    zerolog.Logger

	mu      sync.Mutex
	pending []paho.Token

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect creates a client and connects to the broker
func Connect(ctx context.Context, cfg config.MQTTConfig, log zerolog.Logger) (*Publisher, error) {
	log = logging.Component(log, "MQTT")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connection established")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("Connection lost, will auto-reconnect")
	}

	c := paho.NewClient(opts)
	token := c.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		c.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newPublisher(c, cfg.TopicPrefix, log), nil
}

func newPublisher(c client, prefix string, log zerolog.Logger) *Publisher {
	return &Publisher{client: c, prefix: prefix, log: log}
}

// Topic returns the topic an event is published on
func (p *Publisher) Topic(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "/" + event
}

// Emit publishes a frame summary; other payloads are published as JSON
func (p *Publisher) Emit(event string, payload any) {
	switch v := payload.(type) {
	case pipeline.VideoFrame:
		payload = summarize(v)
	case *pipeline.VideoFrame:
		payload = summarize(*v)
	}
	p.publish(event, 0, payload)
}

// LogViolation publishes a violation record
func (p *Publisher) LogViolation(ev violations.Event) error {
	p.publish("violation", 1, ev)
	return nil
}

func (p *Publisher) publish(event string, qos byte, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.failed.Add(1)
		p.log.Error().Err(err).Str("event", event).Msg("Failed to marshal payload")
		return
	}

	token := p.client.Publish(p.Topic(event), qos, false, data)
	p.track(token)
}

// track keeps unfinished tokens and reports failures of finished ones
func (p *Publisher) track(token paho.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keep := p.pending[:0]
	for _, t := range append(p.pending, token) {
		select {
		case <-t.Done():
			if err := t.Error(); err != nil {
				p.failed.Add(1)
				p.log.Warn().Err(err).Msg("Publish failed")
			} else {
				p.published.Add(1)
			}
		default:
			keep = append(keep, t)
		}
	}
	p.pending = keep
}

// Published counts messages acknowledged by the client
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Failed counts messages that could not be published
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Close disconnects, allowing in-flight messages a short time to finish
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func summarize(vf pipeline.VideoFrame) DetectionMessage {
	msg := DetectionMessage{
		Seq:        vf.Seq,
		Timestamp:  vf.Timestamp,
		Count:      vf.Count,
		Detections: make([]Detection, 0, len(vf.Detections)),
	}
	for _, d := range vf.Detections {
		msg.Detections = append(msg.Detections, Detection{
			ClassName:  d.Label,
			Confidence: d.Confidence,
			BBox:       [4]int{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
		})
	}
	return msg
}

var (
	_ pipeline.Transport     = (*Publisher)(nil)
	_ pipeline.ViolationSink = (*Publisher)(nil)
)
