// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
)

// Bus owns the Watermill publisher and subscriber over NATS JetStream.
type Bus struct {
	cfg        *config.NATSConfig
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

// NewBus connects to NATS, provisions the change stream, and builds
// the publisher and subscriber.
func NewBus(cfg *config.NATSConfig) (*Bus, error) {
	logger := newWatermillLogger()

	if err := provisionStream(cfg); err != nil {
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false, // stream provisioned above
			TrackMsgId:    true,  // broker-side dedup on redeliver
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(cfg.StreamName),
				natsgo.DeliverNew(), // initial load covers history
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("creating subscriber: %w", err)
	}

	return &Bus{cfg: cfg, publisher: pub, subscriber: sub, logger: logger}, nil
}

// provisionStream creates or updates the JetStream stream holding all
// change subjects.
func provisionStream(cfg *config.NATSConfig) error {
	nc, err := natsgo.Connect(cfg.URL, natsgo.Timeout(cfg.ConnectTimeout))
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("opening jetstream context: %w", err)
	}

	streamCfg := &natsgo.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Retention: natsgo.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   natsgo.FileStorage,
		// Duplicate window backs TrackMsgId on the publisher.
		Duplicates: 2 * time.Minute,
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if _, err := js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("creating stream %s: %w", cfg.StreamName, err)
		}
		logging.Info().Str("stream", cfg.StreamName).Str("subjects", cfg.SubjectPrefix+".>").Msg("change stream created")
		return nil
	}
	if _, err := js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("updating stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// Publish sends one raw message to a subject.
func (b *Bus) Publish(topic string, msg *message.Message) error {
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}
	return b.publisher.Publish(topic, msg)
}

// Subscribe yields raw messages for a subject until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.subscriber.Subscribe(ctx, topic)
}

// Close shuts both sides down.
func (b *Bus) Close() error {
	pubErr := b.publisher.Close()
	subErr := b.subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}
