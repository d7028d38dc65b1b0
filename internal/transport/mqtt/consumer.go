// Package mqtt ingests readings from devices that publish over MQTT instead
// of HTTP.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// Ingestor hands a reading to the processing pipeline without blocking.
type Ingestor interface {
	Dispatch(r *domain.Reading)
}

// Consumer subscribes to the fuel telemetry topic and feeds publishes into
// the pipeline. The connection manager reconnects and resubscribes on its
// own; devices publish at QoS 1 so a broker blip does not lose readings.
type Consumer struct {
	conn   *autopaho.ConnectionManager
	topic  string
	ingest Ingestor
	log    *slog.Logger
}

func NewConsumer(
	ctx context.Context,
	brokerAddr, topic, clientID string,
	ingest Ingestor,
	log *slog.Logger,
) (*Consumer, error) {
	if log == nil {
		log = slog.Default()
	}

	serverURL, err := url.Parse(withScheme(brokerAddr))
	if err != nil {
		return nil, fmt.Errorf("parse broker address %q: %w", brokerAddr, err)
	}

	c := &Consumer{topic: topic, ingest: ingest, log: log}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			log.Info("mqtt connected, subscribing", "topic", topic)
			subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
			}); err != nil {
				log.Error("mqtt subscribe failed", "topic", topic, "error", err)
			}
		},
		OnConnectError: func(err error) {
			log.Warn("mqtt connect failed, retrying", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.handle(pr.Packet)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				log.Warn("mqtt client error", "error", err)
			},
		},
	}

	conn, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connection: %w", err)
	}
	c.conn = conn

	return c, nil
}

// AwaitConnection blocks until the first broker connection, or ctx expiry.
func (c *Consumer) AwaitConnection(ctx context.Context) error {
	return c.conn.AwaitConnection(ctx)
}

// Close disconnects from the broker cleanly.
func (c *Consumer) Close(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

func (c *Consumer) handle(p *paho.Publish) {
	var reading domain.Reading
	if err := json.Unmarshal(p.Payload, &reading); err != nil {
		metrics.ReadingsRejected.Add(1)
		c.log.Warn("mqtt payload rejected", "topic", p.Topic, "error", err)
		return
	}
	if reading.DeviceID == "" {
		metrics.ReadingsRejected.Add(1)
		return
	}
	reading.Normalize(time.Now().UTC())

	metrics.ReadingsReceived.Add(1)
	c.ingest.Dispatch(&reading)
}

func withScheme(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "mqtt://" + addr
}
