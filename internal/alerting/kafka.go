package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// KafkaNotifier publishes alerts as JSON events keyed by window end block.
type KafkaNotifier struct {
	topic    string
	producer sarama.SyncProducer
}

// DialKafka connects a synchronous producer to brokers.
func DialKafka(brokers []string, topic string) (*KafkaNotifier, error) {
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	cleaned := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("no kafka brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(cleaned, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaNotifier(sp, topic), nil
}

// NewKafkaNotifier wraps an existing producer.
func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{topic: topic, producer: producer}
}

// Send publishes the alert and waits for the broker ack.
func (k *KafkaNotifier) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(newAlertEvent(alert))
	if err != nil {
		return err
	}

	// SyncProducer has no context support; check before sending.
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(alert.Window.End, 10)),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err = k.producer.SendMessage(msg)
	return err
}

// Close shuts the producer down.
func (k *KafkaNotifier) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// alertEvent is the Kafka wire form. Infinite ratio/z are encoded as null.
type alertEvent struct {
	Time       time.Time `json:"time"`
	StartBlock uint64    `json:"startBlock"`
	EndBlock   uint64    `json:"endBlock"`
	Count      uint64    `json:"count"`
	Mean       float64   `json:"mean"`
	Std        float64   `json:"std"`
	Ratio      *float64  `json:"ratio"`
	Z          *float64  `json:"z"`
	Threshold  string    `json:"threshold"`
	Asset      string    `json:"asset"`
	Message    string    `json:"message"`
}

func newAlertEvent(a Alert) alertEvent {
	return alertEvent{
		Time:       a.Time.UTC(),
		StartBlock: a.Window.Start,
		EndBlock:   a.Window.End,
		Count:      a.Count,
		Mean:       a.Mean,
		Std:        a.Std,
		Ratio:      finite(a.Ratio),
		Z:          finite(a.Z),
		Threshold:  a.Threshold.String(),
		Asset:      a.Asset,
		Message:    RenderPlain(a),
	}
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

var _ Notifier = (*KafkaNotifier)(nil)
