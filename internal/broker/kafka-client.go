package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/config"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/model"
)

// KafkaClient mirrors forwarded readings to a topic and parks unparseable
// payloads in a DLQ topic. Both writers are async so the callers never wait
// on the brokers.
type KafkaClient struct {
	MainProducer *kafka.Writer
	DLQProducer  *kafka.Writer
	logger       *zap.SugaredLogger
}

func NewKafkaClient(cfg *config.Config, logger *zap.SugaredLogger) *KafkaClient {
	l := logger.With("component", "kafka")
	return &KafkaClient{
		MainProducer: NewKafkaProducer(cfg, cfg.KafkaTopic, l),
		DLQProducer:  NewKafkaProducer(cfg, cfg.KafkaDLQTopic, l),
		logger:       l,
	}
}

func NewKafkaProducer(cfg *config.Config, topic string, logger *zap.SugaredLogger) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},

		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		Async:        true,
		Compression:  parseCompression(cfg.KafkaCompression),
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Errorw("kafka write error", "topic", topic, "messages", len(messages), "error", err)
			}
		},
	}
}

func (p *KafkaClient) Close() {
	_ = p.MainProducer.Close()
	_ = p.DLQProducer.Close()
}

func (p *KafkaClient) Name() string { return "kafka" }

// Send implements forward.Sink.
func (p *KafkaClient) Send(ctx context.Context, r model.Reading) error {
	msg, err := mirrorMessage(r, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return err
	}
	return p.MainProducer.WriteMessages(ctx, msg)
}

// SendDeadLetter implements handler.DeadLetterSink.
func (p *KafkaClient) SendDeadLetter(ctx context.Context, dl model.DeadLetter) error {
	msg, err := deadLetterMessage(dl)
	if err != nil {
		return err
	}
	return p.DLQProducer.WriteMessages(ctx, msg)
}

func mirrorMessage(r model.Reading, eventID string, now time.Time) (kafka.Message, error) {
	key := r.Key()
	buf, err := json.Marshal(model.MirrorEnvelope{
		EventID:     eventID,
		DeviceKey:   key,
		Reading:     r.Payload(),
		ForwardedAt: now,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode mirror envelope: %w", err)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: buf,
		Headers: []kafka.Header{
			{Key: "eventId", Value: []byte(eventID)},
			{Key: "receivedAt", Value: []byte(r.ReceivedAt.Format(time.RFC3339Nano))},
		},
	}, nil
}

func deadLetterMessage(dl model.DeadLetter) (kafka.Message, error) {
	buf, err := json.Marshal(dl)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode dead letter: %w", err)
	}
	return kafka.Message{Key: []byte("invalid"), Value: buf}, nil
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}
