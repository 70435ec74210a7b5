/*
Package notify delivers state transition events to interested parties
outside the core.

Publishing is fire and forget by contract: a delivery failure is logged
and dropped, it never propagates into the operation that produced the
event.
*/
package notify

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/segmentio/kafka-go"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// Environment variables consumed by ConfigFromEnv.
const (
	EnvBrokers = "KAFKA_BROKERS"
	EnvTopic   = "NOTIFY_TOPIC"
)

// DefaultTopic receives events when no topic is configured.
const DefaultTopic = "custody.events"

// Config carries the runtime options of the Kafka notifier.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// ConfigFromEnv builds a configuration from the process environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Topic:        os.Getenv(EnvTopic),
		WriteTimeout: 10 * time.Second,
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	for _, b := range strings.Split(os.Getenv(EnvBrokers), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Brokers = append(cfg.Brokers, b)
		}
	}
	return cfg
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.Wrap(errors.ErrInput, "at least one broker is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.Wrap(errors.ErrEmpty, "topic")
	}
	return nil
}

// Envelope is the wire format of a published event.
type Envelope struct {
	Safe      custody.Address   `json:"safe"`
	Kind      custody.EventKind `json:"kind"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	EmittedAt custody.UnixTime  `json:"emitted_at"`
}

// messageWriter is the slice of the kafka writer the notifier uses,
// narrowed so tests can substitute a recorder.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a Kafka topic, keyed by safe address so all
// events of one safe land in the same partition in order.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
	log     log15.Logger

	// now is the time source, replaceable in tests.
	now func() custody.UnixTime
}

var _ custody.Notifier = (*Kafka)(nil)

// NewKafka returns a notifier writing to the configured brokers and
// topic.
func NewKafka(cfg Config, log log15.Logger) (*Kafka, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaWithWriter(cfg, log, writer), nil
}

func newKafkaWithWriter(cfg Config, log log15.Logger, writer messageWriter) *Kafka {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kafka{
		writer:  writer,
		timeout: timeout,
		log:     log,
		now:     func() custody.UnixTime { return custody.AsUnixTime(time.Now()) },
	}
}

// Publish delivers one event. Failures are logged and dropped.
func (k *Kafka) Publish(safe custody.Address, kind custody.EventKind, payload []byte) {
	value, err := json.Marshal(Envelope{
		Safe:      safe,
		Kind:      kind,
		Payload:   payload,
		EmittedAt: k.now(),
	})
	if err != nil {
		k.log.Error("cannot encode event envelope", "safe", safe, "kind", kind, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(safe.String()),
		Value: value,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Error("cannot publish event", "safe", safe, "kind", kind, "err", err)
	}
}

// Close releases the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
