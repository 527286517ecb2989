// Package events publishes pipeline outcome events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

// Event types
const (
	TypeRunStarted    = "run.started"
	TypeRunCompleted  = "run.completed"
	TypeFileProcessed = "file.processed"
	TypeNotification  = "notification"
)

// Event is one pipeline outcome.
type Event struct {
	Type        string         `json:"type"`
	RunID       string         `json:"run_id"`
	Trigger     string         `json:"trigger,omitempty"`
	File        string         `json:"file,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Outcome     string         `json:"outcome,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Message     string         `json:"message,omitempty"`
	Counts      map[string]int `json:"counts,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	TraceID     string         `json:"trace_id,omitempty"`
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseBrokers splits a comma-separated broker string.
func ParseBrokers(brokers string) []string {
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

// MessageWriter is the subset of kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing events to Kafka
type Producer struct {
	writer MessageWriter
	topic  string
	logger ectologger.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter builds a producer over an existing writer.
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{writer: writer, topic: topic, logger: logger}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish publishes one event keyed by run id.
func (p *Producer) Publish(ctx context.Context, evt Event) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event.type", evt.Type),
		attribute.String("run_id", evt.RunID),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "run_id", Value: []byte(evt.RunID)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.RunID),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.RecordKafkaPublish(p.topic, "error")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	metrics.RecordKafkaPublish(p.topic, "success")
	p.logger.WithContext(ctx).Debugf("Published %s event for run %s to %s", evt.Type, evt.RunID, p.topic)
	return nil
}

// Nop discards events. Used when Kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
