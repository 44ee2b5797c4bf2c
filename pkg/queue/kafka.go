package queue

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka dispatcher
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
}

// DefaultKafkaConfig returns the defaults used by the worker command
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:    "relay.jobs",
		GroupID:  "relay-workers",
		ClientID: "relay",
	}
}

// KafkaDispatcher publishes tasks to a topic and, once started, consumes
// them as part of a consumer group. Tasks are keyed by pipeline so runs of
// one pipeline stay ordered on a partition.
//
// Revocation is only known to this process. A revoked task consumed by
// another worker still runs, and the executor then finds its job terminal.
type KafkaDispatcher struct {
	config   KafkaConfig
	logger   *zap.Logger
	client   sarama.Client
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup

	mu      sync.Mutex
	revoked map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewKafkaDispatcher connects to the brokers
func NewKafkaDispatcher(cfg KafkaConfig) (*KafkaDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka brokers are required").
			WithDetail("field", "brokers")
	}
	defaults := DefaultKafkaConfig()
	if cfg.Topic == "" {
		cfg.Topic = defaults.Topic
	}
	if cfg.GroupID == "" {
		cfg.GroupID = defaults.GroupID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaults.ClientID
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	client, err := sarama.NewClient(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to create kafka client")
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to create kafka producer")
	}

	d := newKafkaDispatcher(cfg, producer)
	d.client = client
	return d, nil
}

func newKafkaDispatcher(cfg KafkaConfig, producer sarama.SyncProducer) *KafkaDispatcher {
	return &KafkaDispatcher{
		config:   cfg,
		logger:   logger.Get().With(zap.String("component", "kafka_dispatcher"), zap.String("topic", cfg.Topic)),
		producer: producer,
		revoked:  make(map[string]struct{}),
	}
}

// Enqueue implements Dispatcher
func (d *KafkaDispatcher) Enqueue(_ context.Context, task Task) (TaskHandle, error) {
	task, err := prepare(task)
	if err != nil {
		return TaskHandle{}, err
	}
	value, err := encodeTask(task)
	if err != nil {
		return TaskHandle{}, err
	}

	msg := &sarama.ProducerMessage{
		Topic: d.config.Topic,
		Key:   sarama.StringEncoder(task.PipelineID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("task_id"), Value: []byte(task.ID)},
		},
	}
	partition, offset, err := d.producer.SendMessage(msg)
	if err != nil {
		return TaskHandle{}, errors.Wrap(err, errors.ErrorTypeTransport, "failed to publish task").
			WithDetail("task_id", task.ID)
	}

	d.logger.Debug("task published",
		zap.String("task_id", task.ID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return TaskHandle{TaskID: task.ID}, nil
}

// Revoke implements Dispatcher
func (d *KafkaDispatcher) Revoke(_ context.Context, taskID string) error {
	d.mu.Lock()
	d.revoked[taskID] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *KafkaDispatcher) isRevoked(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[taskID]
	if ok {
		delete(d.revoked, taskID)
	}
	return ok
}

// Start joins the consumer group and runs handler for every task until ctx
// is cancelled or Close is called
func (d *KafkaDispatcher) Start(ctx context.Context, handler Handler) error {
	if d.client == nil {
		return errors.New(errors.ErrorTypeConfig, "kafka dispatcher has no client")
	}
	group, err := sarama.NewConsumerGroupFromClient(d.config.GroupID, d.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to create consumer group")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.group = group
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	consumer := &taskConsumer{dispatcher: d, handler: handler}
	go func() {
		defer close(d.done)
		for {
			if err := group.Consume(ctx, []string{d.config.Topic}, consumer); err != nil {
				d.logger.Error("consumer group error", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		for err := range group.Errors() {
			d.logger.Error("consumer error", zap.Error(err))
		}
	}()

	d.logger.Info("worker joined consumer group", zap.String("group_id", d.config.GroupID))
	return nil
}

// Close stops consuming and closes the producer and client
func (d *KafkaDispatcher) Close() error {
	d.mu.Lock()
	cancel, done, group := d.cancel, d.done, d.group
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if group != nil {
		if err := group.Close(); err != nil {
			d.logger.Warn("failed to close consumer group", zap.Error(err))
		}
	}
	if err := d.producer.Close(); err != nil {
		d.logger.Warn("failed to close producer", zap.Error(err))
	}
	if d.client != nil && !d.client.Closed() {
		return d.client.Close()
	}
	return nil
}

// taskConsumer implements sarama.ConsumerGroupHandler
type taskConsumer struct {
	dispatcher *KafkaDispatcher
	handler    Handler
}

func (c *taskConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *taskConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *taskConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					// not marked, so the task is redelivered after rebalance
					return nil
				}
				c.dispatcher.logger.Error("task failed",
					zap.Int64("offset", message.Offset),
					zap.Error(err))
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle decodes one message, holds it until its not-before time and runs
// the handler. A delayed task blocks its partition while it waits.
func (c *taskConsumer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	task, err := decodeTask(message.Value)
	if err != nil {
		return err
	}

	if delay := task.Delay(time.Now()); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if c.dispatcher.isRevoked(task.ID) {
		c.dispatcher.logger.Debug("skipping revoked task", zap.String("task_id", task.ID))
		return nil
	}
	return c.handler(ctx, task)
}

var _ Worker = (*KafkaDispatcher)(nil)
