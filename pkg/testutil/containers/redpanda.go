//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
)

// RedpandaContainer is a Kafka-compatible broker for integration tests.
type RedpandaContainer struct {
	Container testcontainers.Container
	Broker    string
}

func NewRedpandaContainer(t *testing.T) *RedpandaContainer {
	t.Helper()
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.2.4",
		redpanda.WithAutoCreateTopics(),
	)
	if err != nil {
		t.Fatalf("failed to start redpanda container: %v", err)
	}

	broker, err := container.KafkaSeedBroker(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redpanda seed broker: %v", err)
	}

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	return &RedpandaContainer{Container: container, Broker: broker}
}
