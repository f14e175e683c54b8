package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/unclebandit/disparo-dispatch/internal/model"
)

// AMQPBroker keeps jobs in a durable RabbitMQ priority queue. Retries wait in
// per-delay queues whose messages dead-letter back into the jobs queue.
type AMQPBroker struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pub      *amqp.Channel
	registry Registry
	prefetch int

	retryMu     sync.Mutex
	retryQueues map[string]struct{}
}

// NewAMQPBroker dials url and declares the jobs queue.
func NewAMQPBroker(url string, registry Registry, prefetch int) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		JobsQueue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		amqp.Table{"x-max-priority": int32(maxPriority)},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	logrus.Infof("RabbitMQ broker ready on queue %s", JobsQueue)
	return &AMQPBroker{
		conn:        conn,
		pub:         ch,
		registry:    registry,
		prefetch:    prefetch,
		retryQueues: map[string]struct{}{},
	}, nil
}

func (b *AMQPBroker) publish(queueName string, job model.DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Priority:      job.Priority,
		MessageId:     uuid.NewString(),
		CorrelationId: job.Key(),
		Timestamp:     time.Now(),
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pub.Publish("", queueName, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (b *AMQPBroker) Enqueue(ctx context.Context, job model.DispatchJob) (bool, error) {
	added, err := b.registry.Claim(ctx, job.Key())
	if err != nil || !added {
		return false, err
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if err := b.publish(JobsQueue, job); err != nil {
		// Undo the claim so the caller may retry the same key.
		if rerr := b.registry.Release(ctx, job.Key()); rerr != nil {
			logrus.WithError(rerr).Warn("⚠️ failed to release job key after publish error")
		}
		return false, err
	}
	return true, nil
}

// retryQueue declares, once per process, the delay queue for d.
func (b *AMQPBroker) retryQueue(d time.Duration) (string, error) {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	name := retryQueuePrefix + strconv.FormatInt(ms, 10)

	b.retryMu.Lock()
	defer b.retryMu.Unlock()
	if _, ok := b.retryQueues[name]; ok {
		return name, nil
	}
	b.pubMu.Lock()
	_, err := b.pub.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(ms),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": JobsQueue,
	})
	b.pubMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to declare retry queue: %w", err)
	}
	b.retryQueues[name] = struct{}{}
	return name, nil
}

func (b *AMQPBroker) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}
	msgs, err := ch.Consume(
		JobsQueue,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					logrus.Warn("⚠️ RabbitMQ delivery channel closed")
					return
				}
				var job model.DispatchJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					logrus.WithError(err).Error("Invalid job payload, dropping")
					d.Ack(false)
					continue
				}
				if err := b.registry.SetState(ctx, job.Key(), StateActive); err != nil {
					logrus.WithError(err).Warn("⚠️ failed to mark job active")
				}
				select {
				case out <- &amqpDelivery{broker: b, d: d, job: job}:
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Stats(ctx context.Context) (Stats, error) {
	if err := b.registry.Purge(ctx); err != nil {
		logrus.WithError(err).Warn("⚠️ failed to purge job registry")
	}
	active, completed, failed, err := b.registry.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Active: active, Completed: completed, Failed: failed}

	b.retryMu.Lock()
	names := make([]string, 0, len(b.retryQueues))
	for name := range b.retryQueues {
		names = append(names, name)
	}
	b.retryMu.Unlock()

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	q, err := b.pub.QueueInspect(JobsQueue)
	if err != nil {
		return Stats{}, fmt.Errorf("inspect %s: %w", JobsQueue, err)
	}
	s.Waiting = int64(q.Messages)
	for _, name := range names {
		if rq, err := b.pub.QueueInspect(name); err == nil {
			s.Delayed += int64(rq.Messages)
		}
	}
	s.sum()
	return s, nil
}

func (b *AMQPBroker) Close() error {
	if b.pub != nil {
		if err := b.pub.Close(); err != nil {
			logrus.Printf("Error closing channel: %v", err)
		}
	}
	return b.conn.Close()
}

type amqpDelivery struct {
	broker *AMQPBroker
	d      amqp.Delivery
	job    model.DispatchJob
}

func (d *amqpDelivery) Job() model.DispatchJob { return d.job }

func (d *amqpDelivery) Complete(ctx context.Context) error {
	if err := d.broker.registry.Complete(ctx, d.job.Key()); err != nil {
		logrus.WithError(err).Warn("⚠️ failed to record completed job")
	}
	return d.d.Ack(false)
}

func (d *amqpDelivery) Fail(ctx context.Context, reason string) error {
	if err := d.broker.registry.Fail(ctx, d.job.Key()); err != nil {
		logrus.WithError(err).Warn("⚠️ failed to record failed job")
	}
	logrus.WithFields(logrus.Fields{"job": d.job.Key(), "attempt": d.job.Attempt}).
		Warnf("Job permanently failed: %s", reason)
	return d.d.Ack(false)
}

// Retry republishes attempt+1 to the delay queue, then acks the original.
func (d *amqpDelivery) Retry(ctx context.Context, delay time.Duration) error {
	name, err := d.broker.retryQueue(delay)
	if err != nil {
		d.d.Nack(false, true)
		return err
	}
	next := d.job
	next.Attempt++
	if err := d.broker.registry.SetState(ctx, next.Key(), StateDelayed); err != nil {
		logrus.WithError(err).Warn("⚠️ failed to mark job delayed")
	}
	if err := d.broker.publish(name, next); err != nil {
		d.d.Nack(false, true)
		return err
	}
	return d.d.Ack(false)
}

func (d *amqpDelivery) Release(ctx context.Context) error {
	if err := d.broker.registry.Release(ctx, d.job.Key()); err != nil {
		logrus.WithError(err).Warn("⚠️ failed to release job key")
	}
	return d.d.Ack(false)
}

var _ Broker = (*AMQPBroker)(nil)
