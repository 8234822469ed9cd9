package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

// Header keys carried on order events so consumers can route without
// decoding the payload.
const (
	HeaderEventType   = "event-type"
	HeaderContentType = "content-type"
)

const fetchRetryDelay = time.Second

// Envelope is an outbound message. Key picks the partition, so events for
// one order stay in order.
type Envelope struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Message is a message consumed from the bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Offset  int64
	Time    time.Time
}

// Header returns the value of header k, or "".
func (m Message) Header(k string) string {
	return m.Headers[k]
}

// Handler processes an inbound message. A returned error is logged and the
// message is committed anyway.
type Handler func(context.Context, Message) error

// Client publishes order events and feeds them to consumers.
type Client interface {
	Publish(ctx context.Context, env Envelope) error
	Consume(ctx context.Context, handler Handler) error
	Topic() string
}

// Module wires the messaging client.
var Module = fx.Provide(NewClient)

// noopClient is used when messaging is disabled.
type noopClient struct {
	topic string
}

func (n noopClient) Publish(context.Context, Envelope) error { return nil }

func (n noopClient) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (n noopClient) Topic() string { return n.topic }

type kafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
	topic  string
	logger *zap.Logger
}

func (k *kafkaClient) Publish(ctx context.Context, env Envelope) error {
	return k.writer.WriteMessages(ctx, toKafka(env))
}

// Consume fetches messages until ctx ends. Commits are by offset, so a
// message whose handler failed is committed along with the rest.
func (k *kafkaClient) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			k.logger.Error("kafka fetch failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		in := fromKafka(msg)
		if err := handler(ctx, in); err != nil {
			k.logger.Error("dropping message after handler failure",
				zap.Error(err),
				zap.String("event_type", in.Header(HeaderEventType)),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("commit failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

func (k *kafkaClient) Topic() string { return k.topic }

// toKafka builds the wire message. The topic comes from the writer, which
// rejects messages that set their own. Headers are sorted by key.
func toKafka(env Envelope) kafka.Message {
	msg := kafka.Message{Key: env.Key, Value: env.Value}
	if len(env.Headers) == 0 {
		return msg
	}
	keys := make([]string, 0, len(env.Headers))
	for key := range env.Headers {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	msg.Headers = make([]kafka.Header, 0, len(keys))
	for _, key := range keys {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(env.Headers[key])})
	}
	return msg
}

// fromKafka copies msg so handlers may keep the slices after the next fetch.
func fromKafka(msg kafka.Message) Message {
	out := Message{
		Topic:  msg.Topic,
		Key:    slices.Clone(msg.Key),
		Value:  slices.Clone(msg.Value),
		Offset: msg.Offset,
		Time:   msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}

// NewClient builds a messaging client based on configuration.
func NewClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	if !cfg.Messaging.Enabled || cfg.Messaging.Driver == "noop" {
		logger.Info("messaging disabled; order events will not be published")

		return noopClient{topic: cfg.Messaging.Kafka.Topic}, nil
	}

	switch cfg.Messaging.Driver {
	case "kafka":
		return newKafkaClient(lc, cfg.Messaging, logger), nil
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}

func newKafkaClient(lc fx.Lifecycle, cfg config.Messaging, logger *zap.Logger) *kafkaClient {
	kc := cfg.Kafka
	log := logger.Named("kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Topic:        kc.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Logger:       kafka.LoggerFunc(log.Sugar().Debugf),
		ErrorLogger:  kafka.LoggerFunc(log.Sugar().Errorf),
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          kc.Topic,
		MinBytes:       kc.MinBytes,
		MaxBytes:       kc.MaxBytes,
		CommitInterval: kc.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  kc.ConnectTimeout,
			ClientID: kc.ClientID,
		},
	})

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info("closing kafka client", zap.String("topic", kc.Topic))

			return errors.Join(writer.Close(), reader.Close())
		},
	})

	return &kafkaClient{writer: writer, reader: reader, topic: kc.Topic, logger: log}
}
