package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/KevinKickass/OpenSignageCore/internal/health"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher is the part of mqtt.Client the bridge uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials the configured broker.
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Bridge republishes client lifecycle events to MQTT:
//
//	<prefix>/clients/<id>/status        retained, latest status
//	<prefix>/clients/<id>/disconnected  not retained
type Bridge struct {
	publisher Publisher
	prefix    string
	qos       byte
	logger    *zap.Logger
}

func NewBridge(publisher Publisher, prefix string, qos byte, logger *zap.Logger) *Bridge {
	return &Bridge{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "/"),
		qos:       qos,
		logger:    logger,
	}
}

// Run publishes events until the channel closes or ctx is done.
func (b *Bridge) Run(ctx context.Context, events <-chan health.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := b.Publish(e); err != nil {
				b.logger.Warn("Failed to publish client event",
					zap.String("client_id", e.ClientID),
					zap.String("event", string(e.Type)),
					zap.Error(err))
			}
		}
	}
}

// Topic returns where an event is published.
func (b *Bridge) Topic(e health.Event) string {
	suffix := "status"
	if e.Type == health.EventDisconnected {
		suffix = "disconnected"
	}
	return fmt.Sprintf("%s/clients/%s/%s", b.prefix, e.ClientID, suffix)
}

func (b *Bridge) Publish(e health.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	retained := e.Type == health.EventStatusChanged
	token := b.publisher.Publish(b.Topic(e), b.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", b.Topic(e))
	}
	return token.Error()
}
