// Package automation публикует решения по кадрам автоматике и отчёты фабрике через MQTT.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/entity"
	"github.com/lmitechnologies/Gadget-Inspection-Template/internal/domain/port"
)

const publishTimeout = 2 * time.Second

// Publisher часть mqtt.Client, которая нужна для публикации
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// DecisionMessage сообщение для PLC
type DecisionMessage struct {
	FrameID   string          `json:"frame_id"`
	Decision  entity.Decision `json:"decision"` // None / anomaly / defect / both
	Flags     uint8           `json:"flags"`
	Fields    map[string]any  `json:"fields"`
	Timestamp time.Time       `json:"timestamp"`
}

// ReportMessage отчёт фабрике
type ReportMessage struct {
	FrameID   string         `json:"frame_id"`
	Tags      []string       `json:"tags"`
	Fields    map[string]any `json:"fields"`
	Timestamp time.Time      `json:"timestamp"`
}

// MQTTPublisher мост к автоматике (<prefix>/automation) и фабрике (<prefix>/factory)
type MQTTPublisher struct {
	client Publisher
	prefix string
	qos    byte
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// NewMQTTPublisher создаёт издателя поверх готового клиента
func NewMQTTPublisher(client Publisher, prefix string, qos byte, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		client:    client,
		prefix:    prefix,
		qos:       qos,
		logger:    logger,
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// AutomationTopic топик решений
func (p *MQTTPublisher) AutomationTopic() string { return p.prefix + "/automation" }

// FactoryTopic топик отчётов
func (p *MQTTPublisher) FactoryTopic() string { return p.prefix + "/factory" }

// SendDecision публикует решение по кадру
func (p *MQTTPublisher) SendDecision(ctx context.Context, frameID string, decision entity.Decision, fields map[string]any) error {
	return p.publish(ctx, p.AutomationTopic(), DecisionMessage{
		FrameID:   frameID,
		Decision:  decision,
		Flags:     uint8(decision),
		Fields:    fields,
		Timestamp: p.now().UTC(),
	})
}

// Report публикует отчёт фабрике
func (p *MQTTPublisher) Report(ctx context.Context, frameID string, tags []string, fields map[string]any) error {
	if tags == nil {
		tags = []string{}
	}
	return p.publish(ctx, p.FactoryTopic(), ReportMessage{
		FrameID:   frameID,
		Tags:      tags,
		Fields:    fields,
		Timestamp: p.now().UTC(),
	})
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		p.countError()
		return fmt.Errorf("publish to %s: timeout", topic)
	case <-ctx.Done():
		p.countError()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	p.logger.Debug("message published", "topic", topic, "size", len(payload))
	return nil
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Stats счётчики публикаций
type Stats struct {
	Published map[string]uint64 `json:"published"` // по топикам
	Errors    uint64            `json:"errors"`
}

// Stats снимок счётчиков
func (p *MQTTPublisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: p.errors}
}

// Connect подключается к брокеру с автоматическим переподключением
func Connect(ctx context.Context, broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	logger.Info("connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

var (
	_ port.AutomationSink  = (*MQTTPublisher)(nil)
	_ port.FactoryReporter = (*MQTTPublisher)(nil)
)
