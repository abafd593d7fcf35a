package mqtt

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/config"
)

// MessageHandler is called for every message on the subscribed topic.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// BuildMQTTClient wires the subscription into OnConnect so it is restored
// after every reconnect. Messages are delivered in order, one at a time.
func BuildMQTTClient(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, handle MessageHandler) mqtt.Client {
	log := logger.With("component", "mqtt")

	h := func(_ mqtt.Client, msg mqtt.Message) {
		handle(ctx, msg.Topic(), msg.Payload())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL()).
		SetClientID(cfg.MQTTClientID).
		SetUsername(cfg.MQTTUsername).
		SetPassword(cfg.MQTTPassword).
		SetOrderMatters(true).
		SetCleanSession(cfg.MQTTCleanSession).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)

	opts.OnConnect = func(c mqtt.Client) {
		log.Infow("connected to broker", "broker", cfg.MQTTBrokerURL())
		if token := c.Subscribe(cfg.MQTTTopic, cfg.MQTTQoS, h); token.Wait() && token.Error() != nil {
			log.Errorw("mqtt subscribe error", "topic", cfg.MQTTTopic, "error", token.Error())
		} else {
			log.Infow("subscribed", "topic", cfg.MQTTTopic, "qos", cfg.MQTTQoS)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnw("mqtt connection lost", "error", err)
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("mqtt reconnecting")
	}

	return mqtt.NewClient(opts)
}

// ConnectWithBackoff retries the first connection, doubling the wait up to
// max, until it succeeds or ctx is done.
func ConnectWithBackoff(ctx context.Context, client mqtt.Client, logger *zap.SugaredLogger, start, max time.Duration) error {
	backoff := start
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		logger.Warnw("mqtt connect error, retrying", "error", token.Error(), "backoff", backoff)

		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff = min(backoff*2, max)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
