// Package messaging publishes the worker's share, block, and stats events to
// Kafka. The stream is optional: a nil Publisher swallows every event, and a
// circuit breaker keeps a dead broker from ever back-pressuring mining.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"

	"github.com/bardlex/gosw/pkg/circuit"
	"github.com/bardlex/gosw/pkg/errors"
	"github.com/bardlex/gosw/pkg/log"
	"github.com/bardlex/gosw/pkg/retry"
)

// Publisher wraps kafka-go producers with connection pooling per topic
type Publisher struct {
	brokers     []string
	logger      *log.Logger
	writers     map[string]*kafka.Writer
	writersMu   sync.RWMutex
	breaker     *circuit.Breaker
	retryPolicy retry.Policy
}

// NewPublisher creates a Kafka publisher, or nil when no brokers are
// configured. All Publisher methods are nil-safe no-ops.
func NewPublisher(brokers []string, logger *log.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}

	return &Publisher{
		brokers:     brokers,
		logger:      logger.WithComponent("kafka"),
		writers:     make(map[string]*kafka.Writer),
		breaker:     circuit.New(5, 15*time.Second),
		retryPolicy: retry.Network(),
	}
}

// getProducer gets or creates the producer for a topic
func (p *Publisher) getProducer(topic string) *kafka.Writer {
	p.writersMu.RLock()
	if writer, exists := p.writers[topic]; exists {
		p.writersMu.RUnlock()
		return writer
	}
	p.writersMu.RUnlock()

	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	if writer, exists := p.writers[topic]; exists {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	p.writers[topic] = writer
	p.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// publish serializes an event and writes it behind the breaker and retry
func (p *Publisher) publish(ctx context.Context, topic, key string, event any) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "event_marshal",
			"failed to marshal event").WithContext("topic", topic)
	}

	return p.breaker.Execute(func() error {
		return p.retryPolicy.Do(ctx, func() error {
			writer := p.getProducer(topic)
			msg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_event",
					"failed to publish event").
					WithContext("topic", topic).
					WithContext("key", key)
			}

			p.logger.Debug("published event", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// PublishShareFound emits one submitted share
func (p *Publisher) PublishShareFound(ctx context.Context, event *ShareFoundEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicShareFound, event.JobID, event)
}

// PublishBlockFound emits a full-target solution
func (p *Publisher) PublishBlockFound(ctx context.Context, event *BlockFoundEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicBlockFound, event.BlockHash, event)
}

// PublishWorkerStats emits one worker's counter snapshot
func (p *Publisher) PublishWorkerStats(ctx context.Context, event *WorkerStatsEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, TopicWorkerStats, "", event)
}

// Close flushes and closes all producers
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeKafka, "close_producer",
				"failed to close producer").WithContext("topic", topic)
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	return firstErr
}
