// Package messaging carries work requests and results over Kafka. Messages
// are encoded in protobuf wire format.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/nanowork/pkg/circuit"
	"github.com/bardlex/nanowork/pkg/errors"
	"github.com/bardlex/nanowork/pkg/log"
	"github.com/bardlex/nanowork/pkg/retry"
)

// KafkaClient wraps kafka-go with wire codec support and connection pooling
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]*kafka.Writer
	readers        map[string]*kafka.Reader
	writersMu      sync.RWMutex
	readersMu      sync.RWMutex
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	logger = logger.WithComponent("kafka")

	cbConfig := &circuit.Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
		Name:            "kafka",
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	retryConfig := retry.KafkaConfig()
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("retrying Kafka operation", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}

	return &KafkaClient{
		brokers:        brokers,
		logger:         logger,
		writers:        make(map[string]*kafka.Writer),
		readers:        make(map[string]*kafka.Reader),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retryConfig,
	}
}

// GetProducer gets or creates a Kafka producer for a topic (with connection pooling)
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	// Results are keyed by request ID; hashing keeps one request's results ordered
	writer := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// GetConsumer gets or creates a Kafka consumer for a topic and group
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	key := fmt.Sprintf("%s-%s", topic, groupID)

	k.readersMu.RLock()
	if reader, exists := k.readers[key]; exists {
		k.readersMu.RUnlock()
		return reader
	}
	k.readersMu.RUnlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	if reader, exists := k.readers[key]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     500 * time.Millisecond,
	})

	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// Publish encodes msg and publishes it to topic
func (k *KafkaClient) Publish(ctx context.Context, topic, key string, msg Message) error {
	data := msg.Marshal()

	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:   []byte(key),
				Value: data,
				Time:  time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// Consume reads the next message from reader and decodes it into msg. A
// message that fails to decode is returned as a validation error so the
// caller can skip it.
func (k *KafkaClient) Consume(ctx context.Context, reader *kafka.Reader, msg Message) (string, error) {
	kafkaMsg, err := circuit.ExecuteWithResult(ctx, k.circuitBreaker, func() (kafka.Message, error) {
		return retry.DoWithResult(ctx, k.retryConfig, func() (kafka.Message, error) {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				return kafka.Message{}, errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}
			return m, nil
		})
	})
	if err != nil {
		return "", err
	}

	key := string(kafkaMsg.Key)
	if err := msg.Unmarshal(kafkaMsg.Value); err != nil {
		return key, errors.Wrap(err, errors.ErrorTypeValidation, "decode_message",
			"failed to decode message").
			WithContext("topic", kafkaMsg.Topic).
			WithContext("offset", kafkaMsg.Offset).
			WithContext("message_size", len(kafkaMsg.Value))
	}

	k.logger.Debug("consumed message", "topic", kafkaMsg.Topic, "key", key, "size", len(kafkaMsg.Value))
	return key, nil
}

// MessageHandler defines the interface for handling Kafka messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, msg Message) error
}

// StartConsumer runs a consumer loop for a topic until ctx is done
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() Message, handler MessageHandler) error {
	reader := k.GetConsumer(topic, groupID)

	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)

	for {
		if err := ctx.Err(); err != nil {
			k.logger.Info("consumer stopping", "topic", topic)
			return err
		}

		msg := msgFactory()
		key, err := k.Consume(ctx, reader, msg)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			k.logger.Error("failed to consume message", "topic", topic, "key", key, "error", err)
			if !errors.IsType(err, errors.ErrorTypeValidation) {
				// back off while the broker or breaker recovers
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}

		if err := handler.HandleMessage(ctx, key, msg); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "key", key, "error", err)
		}
	}
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var lastErr error

	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.Error("failed to close producer", "topic", topic, "error", err)
			lastErr = err
		}
	}

	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close consumer", "key", key, "error", err)
			lastErr = err
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	k.readers = make(map[string]*kafka.Reader)
	return lastErr
}
