// Package publisher sends host reports to Kafka so other services can
// follow deployments.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/rolectl/internal/dispatch"
	"github.com/andrej220/rolectl/internal/lg"
	"github.com/segmentio/kafka-go"
)

var _ dispatch.Publisher = (*Kafka)(nil)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
}

type Kafka struct {
	writer messageWriter
	topic  string
	lg     lg.Logger
}

func NewKafka(cfg Config, logger lg.Logger) *Kafka {
	if logger == nil {
		logger = lg.Discard
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
		lg:    logger,
	}
}

// Publish writes one message per host report, keyed by run ID so all hosts
// of a run land on the same partition.
func (k *Kafka) Publish(ctx context.Context, report dispatch.HostReport) error {
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal host report: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   report.RunID[:],
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "host", Value: []byte(report.Host)},
		},
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			k.lg.Error("Kafka topic does not exist",
				lg.String("topic", k.topic),
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		return fmt.Errorf("publish %s: %w", report.Host, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
