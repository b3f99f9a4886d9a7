// Package events publishes "something was generated" notifications to Kafka
// so downstream owners (report metadata, delivery) can react. Publishing is
// best effort and never blocks a request.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
)

const (
	IndexGenerated  = "index.generated"
	ReportGenerated = "report.generated"
)

type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AreaID      string    `json:"area_id,omitempty"`
	Index       string    `json:"index,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SceneDate   string    `json:"scene_date,omitempty"`
	Cached      bool      `json:"cached"`
	ImageURL    string    `json:"image_url,omitempty"`
	Sections    int       `json:"sections,omitempty"`
	TS          time.Time `json:"ts"`
}

type Publisher interface {
	Publish(ev Event)
}

type Nop struct{}

func (Nop) Publish(Event) {}

type Kafka struct {
	topic    string
	log      *slog.Logger
	events   chan Event
	prod     sarama.AsyncProducer
	stopped  chan struct{}
	errsDone chan struct{}
}

func NewKafka(brokers []string, topic string, queueSize int, log *slog.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newKafka(prod, topic, queueSize, log), nil
}

func newKafka(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Kafka {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Kafka{
		topic:    topic,
		log:      log,
		events:   make(chan Event, queueSize),
		prod:     prod,
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncEvent(ev.Type, "marshal_error")
				p.log.Error("events: marshal", "type", ev.Type, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.AreaID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errsDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEvent("unknown", "producer_error")
				p.log.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish stamps ID and TS when unset and drops the event if the queue is
// full.
func (p *Kafka) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
		observability.IncEvent(ev.Type, "queued")
	default:
		observability.IncEvent(ev.Type, "dropped")
	}
}

func (p *Kafka) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	<-p.errsDone
	return nil
}
