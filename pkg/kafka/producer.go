// Package kafka publishes storefront events to Kafka topics.
package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
)

var (
	ErrBufferFull     = errors.New("kafka producer buffer full")
	ErrProducerClosed = errors.New("kafka producer closed")
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from a single goroutine.
// Publish never blocks the caller.
type Producer struct {
	w     messageWriter
	logg  *logger.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewProducer builds an async, hash-balanced writer for topic.
func NewProducer(cfg config.KafkaConfig, topic string, logg *logger.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
	}
	return newProducer(w, cfg.BufferSize, logg), nil
}

func newProducer(w messageWriter, buffer int, logg *logger.Logger) *Producer {
	if buffer <= 0 {
		buffer = 1
	}
	if logg == nil {
		logg = logger.Discard()
	}
	return &Producer{
		w:     w,
		logg:  logg,
		inbox: make(chan kafka.Message, buffer),
		done:  make(chan struct{}),
	}
}

// Start runs the write loop until Close drains the inbox.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for msg := range p.inbox {
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			if err := p.w.WriteMessages(writeCtx, msg); err != nil {
				p.logg.Error(p.logg.WithField(ctx, "kafka_key", string(msg.Key)), "kafka write failed", err)
			}
			cancel()
		}
	}()
}

// Publish enqueues a message keyed for partition affinity.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now().UTC(), Headers: headers}:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting messages, flushes what is buffered and closes the writer.
// Start must have been called.
func (p *Producer) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()

		<-p.done
		err = p.w.Close()
	})
	return err
}
