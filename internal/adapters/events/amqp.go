// Package events ships session lifecycle events to a RabbitMQ topic exchange.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const (
	_defaultAttempts = 5
	_defaultWaitTime = 2 * time.Second
	_defaultBuffer   = 1024
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements core.EventPublisher. Publish only enqueues; a single
// goroutine writes to the broker and events are dropped when it falls behind.
type Publisher struct {
	exchange string
	ch       channel
	conn     *amqp.Connection

	mu     sync.RWMutex
	closed bool
	queue  chan core.SessionEvent
	done   chan struct{}

	dropped uint64
	sampler zerolog.Sampler
}

// Dial connects to url, declares a durable topic exchange and starts the
// publishing loop.
func Dial(url, exchange string) (*Publisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := _defaultAttempts; i > 0; i-- {
		if conn, err = amqp.Dial(url); err == nil {
			break
		}
		log.Warn().Str("module", "events").Int("attempts_left", i-1).Err(err).Msg("RabbitMQ is trying to connect")
		time.Sleep(_defaultWaitTime)
	}
	if err != nil {
		return nil, fmt.Errorf("events - Dial - amqp.Dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events - Dial - conn.Channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events - Dial - ch.ExchangeDeclare: %w", err)
	}

	p := newPublisher(ch, exchange, _defaultBuffer)
	p.conn = conn
	log.Info().Str("module", "events").Str("exchange", exchange).Msg("publishing session events")
	return p, nil
}

func newPublisher(ch channel, exchange string, buffer int) *Publisher {
	p := &Publisher{
		exchange: exchange,
		ch:       ch,
		queue:    make(chan core.SessionEvent, buffer),
		done:     make(chan struct{}),
		sampler:  &zerolog.BurstSampler{Burst: 1, Period: 10 * time.Second},
	}
	go p.loop()
	return p
}

// RoutingKey is session.<kind>, e.g. session.joined.
func RoutingKey(kind core.SessionEventKind) string {
	return "session." + string(kind)
}

func (p *Publisher) Publish(ev core.SessionEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		n := atomic.AddUint64(&p.dropped, 1)
		sampled := log.Logger.Sample(p.sampler)
		sampled.Warn().Str("module", "events").Uint64("dropped", n).Msg("event queue full")
	}
}

func (p *Publisher) Dropped() uint64 { return atomic.LoadUint64(&p.dropped) }

func (p *Publisher) loop() {
	defer close(p.done)
	for ev := range p.queue {
		body, err := json.Marshal(ev)
		if err != nil {
			log.Error().Str("module", "events").Err(err).Msg("encode event")
			continue
		}
		err = p.ch.Publish(p.exchange, RoutingKey(ev.Kind), false, false, amqp.Publishing{
			ContentType: "application/json",
			Type:        string(ev.Kind),
			Timestamp:   ev.At,
			Body:        body,
		})
		if err != nil {
			log.Warn().Str("module", "events").Str("kind", string(ev.Kind)).Err(err).Msg("publish failed")
		}
	}
}

// Close drains queued events and closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
