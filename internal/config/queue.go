package config

import "github.com/unclebandit/disparo-dispatch/internal/queue"

func (c *Config) QueueOptions() queue.Options {
	return queue.Options{
		Backend:  c.QueueBackend,
		AMQPURL:  c.RabbitMQURL,
		RedisURL: c.RedisURL,
		Retention: queue.Retention{
			Completed:     c.CompletedRetention,
			CompletedKeep: c.CompletedKeep,
			Failed:        c.FailedRetention,
			InFlight:      queue.DefaultRetention().InFlight,
		},
		Prefetch: c.WorkerConcurrency,
	}
}

func (c *Config) Backoff() queue.BackoffPolicy {
	return queue.BackoffPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
	}
}
