package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"carecore/internal/platform/config"
)

// NewClient builds a producer client for the configured brokers. Returns nil
// when no brokers are configured.
func NewClient(cfg config.KafkaConfig, extra ...kgo.Opt) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}, extra...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic if it does not exist. An existing topic is left
// untouched.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, logger *slog.Logger) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil {
		if errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "kafka topic created", "topic", topic, "partitions", partitions)
	}
	return nil
}
