// Package eventconsumer drives asynchronous policy evaluation over audit
// events: a Source delivers raw events (durably from Kafka, or by polling
// the audit chain when no broker is configured), a bounded worker pool
// evaluates each against the active/canary policy set, and every decision
// is recorded back onto the audit chain.
package eventconsumer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sentineltrust/controlplane/internal/audit"
	"github.com/sentineltrust/controlplane/internal/logging"
)

// RawEvent is what a Source hands the worker pool: enough to rebuild an
// evaluation context without a second round-trip to the audit chain.
type RawEvent struct {
	ID        string
	EventType string
	Payload   []byte // raw JSON, read with gjson rather than fully unmarshaled
	Timestamp time.Time
}

// Source produces a stream of RawEvents until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, handle func(RawEvent) error) error
	Close() error
}

// KafkaSource reads audit events off a durable topic using a consumer
// group, so restarts resume from the last committed offset instead of
// replaying or dropping events.
type KafkaSource struct {
	reader *kafka.Reader
	logger *logging.Logger
}

func NewKafkaSource(brokers []string, topic, groupID string, logger *logging.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaSource{reader: reader, logger: logger}
}

func (s *KafkaSource) Run(ctx context.Context, handle func(RawEvent) error) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithContext(ctx).WithError(err).Error("kafka fetch failed")
			continue
		}

		event := RawEvent{
			ID:        string(msg.Key),
			EventType: headerValue(msg.Headers, "event_type"),
			Payload:   msg.Value,
			Timestamp: msg.Time,
		}
		if err := handle(event); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("event_id", event.ID).Error("handle audit event")
			continue
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("commit kafka offset")
		}
	}
}

func (s *KafkaSource) Close() error { return s.reader.Close() }

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// PollSource is the fallback mode when no Kafka brokers are configured: it
// polls the audit chain for events newer than the last seen timestamp on a
// fixed interval. It trades delivery latency for zero broker dependency.
type PollSource struct {
	chain    *audit.Chain
	interval time.Duration
	lastSeen time.Time
	logger   *logging.Logger
}

func NewPollSource(chain *audit.Chain, interval time.Duration, logger *logging.Logger) *PollSource {
	return &PollSource{chain: chain, interval: interval, lastSeen: time.Now().UTC().Add(-interval), logger: logger}
}

func (s *PollSource) Run(ctx context.Context, handle func(RawEvent) error) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx, handle)
		}
	}
}

func (s *PollSource) poll(ctx context.Context, handle func(RawEvent) error) {
	events, err := s.chain.Search(ctx, audit.SearchQuery{TimeMin: s.lastSeen, Limit: 500})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("poll audit chain")
		return
	}
	for _, e := range events {
		if !e.Timestamp.After(s.lastSeen) {
			continue
		}
		payload, err := marshalPayload(e.Payload)
		if err != nil {
			continue
		}
		raw := RawEvent{ID: e.ID, EventType: e.EventType, Payload: payload, Timestamp: e.Timestamp}
		if err := handle(raw); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("event_id", e.ID).Error("handle audit event")
			continue
		}
		if e.Timestamp.After(s.lastSeen) {
			s.lastSeen = e.Timestamp
		}
	}
}

func (s *PollSource) Close() error { return nil }
