package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	BackendAMQP   = "amqp"
	BackendMemory = "memory"
)

type Options struct {
	Backend   string
	AMQPURL   string
	RedisURL  string
	Retention Retention
	Prefetch  int
}

// Open builds the broker selected by opts.Backend. The memory backend only
// works when producer and workers share a process.
func Open(ctx context.Context, opts Options) (Broker, Registry, error) {
	switch opts.Backend {
	case BackendMemory:
		registry := NewMemoryRegistry(opts.Retention)
		logrus.Warn("⚠️ Using in-memory queue; jobs will not survive a restart")
		return NewInMemoryBroker(registry), registry, nil

	case BackendAMQP, "":
		registry, err := NewRedisRegistry(ctx, opts.RedisURL, opts.Retention)
		if err != nil {
			return nil, nil, err
		}
		broker, err := NewAMQPBroker(opts.AMQPURL, registry, opts.Prefetch)
		if err != nil {
			registry.Close()
			return nil, nil, err
		}
		return &closingBroker{AMQPBroker: broker, registry: registry}, registry, nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
}

// closingBroker also closes the Redis registry.
type closingBroker struct {
	*AMQPBroker
	registry *RedisRegistry
}

func (b *closingBroker) Close() error {
	err := b.AMQPBroker.Close()
	if rerr := b.registry.Close(); err == nil {
		err = rerr
	}
	return err
}

// RunPurger drops expired settled job ids every interval until ctx ends.
func RunPurger(ctx context.Context, registry Registry, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Purge(ctx); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Warn("⚠️ Job registry purge failed")
			}
		}
	}
}
