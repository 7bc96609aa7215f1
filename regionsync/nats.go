package regionsync

import (
	"fmt"
	"time"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig configures the core-NATS transport. JetStream is not used:
// delivery is at-most-once.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	Name          string        `koanf:"name"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	// QueueGroup shares a region's subscription between its instances so
	// each remote event is applied once per region.
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

func (c NATSConfig) options(logger *LoggerAdapter) []nats.Option {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	return opts
}

// NewNATSPublisher returns a watermill publisher on core NATS.
func NewNATSPublisher(cfg NATSConfig, logger zerolog.Logger) (message.Publisher, error) {
	adapter := NewLoggerAdapter(logger.With().Str("component", "regionsync.nats").Logger())
	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: cfg.options(adapter),
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream:   wmnats.JetStreamConfig{Disabled: true},
	}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber returns a watermill subscriber on core NATS.
func NewNATSSubscriber(cfg NATSConfig, logger zerolog.Logger) (message.Subscriber, error) {
	adapter := NewLoggerAdapter(logger.With().Str("component", "regionsync.nats").Logger())
	count := cfg.SubscribersCount
	if count <= 0 {
		count = 1
	}
	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: count,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      cfg.options(adapter),
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream:        wmnats.JetStreamConfig{Disabled: true},
	}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}
	return sub, nil
}
