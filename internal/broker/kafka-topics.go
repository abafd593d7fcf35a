package broker

import (
	"context"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/config"
)

// EnsureKafkaTopics creates the mirror and DLQ topics through the cluster
// controller when they do not exist yet.
func EnsureKafkaTopics(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	bootstrap := cfg.KafkaBrokers[0]
	logger.Infow("kafka ensuring topics", "bootstrap", bootstrap)

	conn, err := kafka.DialContext(ctx, "tcp", bootstrap)
	if err != nil {
		return err
	}
	defer conn.Close()

	exists := func(topic string) bool {
		parts, err := conn.ReadPartitions(topic)
		return err == nil && len(parts) > 0
	}

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafka.DialContext(ctx, "tcp", ctrlAddr)
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	for _, tc := range topicConfigs(cfg) {
		if exists(tc.Topic) {
			logger.Infow("kafka topic already exists, skipping", "topic", tc.Topic)
			continue
		}
		logger.Infow("kafka creating topic", "topic", tc.Topic, "partitions", tc.NumPartitions, "rf", tc.ReplicationFactor)
		if err := ctrlConn.CreateTopics(tc); err != nil {
			return err
		}
	}
	return nil
}

func topicConfigs(cfg *config.Config) []kafka.TopicConfig {
	entries := []kafka.ConfigEntry{{ConfigName: "compression.type", ConfigValue: compressionType(cfg.KafkaCompression)}}
	return []kafka.TopicConfig{
		{
			Topic:             cfg.KafkaTopic,
			NumPartitions:     cfg.KafkaTopicPartitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
			ConfigEntries:     entries,
		},
		{
			Topic:             cfg.KafkaDLQTopic,
			NumPartitions:     cfg.KafkaDLQPartitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
			ConfigEntries:     entries,
		},
	}
}

// compressionType maps our setting to the broker-side topic config value.
func compressionType(s string) string {
	if s == "" || s == "none" {
		return "uncompressed"
	}
	return s
}
