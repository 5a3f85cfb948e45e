// Package rabbitmqtest provides an in-memory broker implementing the
// transport interfaces, so connection recovery, routing, and
// acknowledgment behavior can be tested without a RabbitMQ node.
package rabbitmqtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/internal/rabbitmq"
)

// ErrBrokerDown is returned by the scripted dialer while the broker is
// marked unavailable.
var ErrBrokerDown = errors.New("rabbitmqtest: broker unavailable")

// AckRecord captures one acknowledgment decision made by a consumer.
type AckRecord struct {
	Tag     uint64
	Ack     bool
	Requeue bool
}

// Published captures one routed publication.
type Published struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Publishing amqp.Publishing
}

type binding struct {
	queue    string
	exchange string
	pattern  string
}

type consumer struct {
	tag        string
	deliveries chan amqp.Delivery
}

type queue struct {
	name      string
	consumers []*consumer
	pending   []amqp.Delivery
}

// Broker is an in-memory topic broker. All state is shared across the
// connections it hands out, mirroring a real node: queues, bindings,
// and exchanges survive a dropped connection.
type Broker struct {
	mu         sync.Mutex
	failDials  int
	dials      int
	nextTag    uint64
	nextQueue  int
	exchanges  map[string]string // name -> kind
	queues     map[string]*queue
	bindings   []binding
	conns      []*Conn
	published  []Published
	acks       []AckRecord
	publishErr error
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string]string),
		queues:    make(map[string]*queue),
	}
}

// Dialer returns a rabbitmq.Dialer backed by this broker.
func (b *Broker) Dialer() rabbitmq.Dialer {
	return func(url string) (rabbitmq.Connection, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dials++
		if b.failDials > 0 {
			b.failDials--
			return nil, ErrBrokerDown
		}
		conn := &Conn{broker: b}
		b.conns = append(b.conns, conn)
		return conn, nil
	}
}

// FailDials makes the next n dial attempts fail.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
}

// Dials returns how many dial attempts have been made.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// FailPublishes makes publish attempts fail with err until reset with
// nil.
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Drop simulates a broker-side connection loss: every live connection
// is closed and notified with the given error. Queues and bindings
// survive; consumers do not.
func (b *Broker) Drop(reason *amqp.Error) {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	for _, q := range b.queues {
		for _, c := range q.consumers {
			close(c.deliveries)
		}
		q.consumers = nil
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.drop(reason)
	}
}

// PublishedMessages returns every message routed so far.
func (b *Broker) PublishedMessages() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Acks returns every acknowledgment decision recorded so far.
func (b *Broker) Acks() []AckRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AckRecord, len(b.acks))
	copy(out, b.acks)
	return out
}

// Queues returns the declared queue names.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

// Bindings returns the number of bindings for a queue.
func (b *Broker) Bindings(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, bd := range b.bindings {
		if bd.queue == queueName {
			n++
		}
	}
	return n
}

// Exchanges returns declared exchange names mapped to their kind.
func (b *Broker) Exchanges() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.exchanges))
	for k, v := range b.exchanges {
		out[k] = v
	}
	return out
}

func (b *Broker) ack(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, AckRecord{Tag: tag, Ack: true})
	return nil
}

func (b *Broker) nack(tag uint64, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, AckRecord{Tag: tag, Ack: false, Requeue: requeue})
	return nil
}

// acknowledger implements amqp.Acknowledger, recording into the broker.
type acknowledger struct {
	broker *Broker
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error { return a.broker.ack(tag) }

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return a.broker.nack(tag, requeue)
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.broker.nack(tag, requeue)
}

// Conn is a fake broker connection.
type Conn struct {
	broker *Broker

	mu     sync.Mutex
	closed bool
	notify []chan *amqp.Error
	chans  []*Chan
}

// Channel opens a fake channel.
func (c *Conn) Channel() (rabbitmq.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("rabbitmqtest: connection closed")
	}
	ch := &Chan{broker: c.broker, conn: c}
	c.chans = append(c.chans, ch)
	return ch, nil
}

// NotifyClose registers a close listener, mirroring amqp091 semantics.
func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the connection gracefully: listeners are closed without
// an error value.
func (c *Conn) Close() error {
	c.close(nil)
	return nil
}

func (c *Conn) drop(reason *amqp.Error) {
	c.close(reason)
}

func (c *Conn) close(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	notify := c.notify
	c.notify = nil
	chans := c.chans
	c.mu.Unlock()

	for _, ch := range chans {
		ch.markClosed()
	}
	for _, recv := range notify {
		if reason != nil {
			recv <- reason
		}
		close(recv)
	}
}

// Chan is a fake AMQP channel bound to the broker state.
type Chan struct {
	broker *Broker
	conn   *Conn

	mu     sync.Mutex
	closed bool
}

func (ch *Chan) markClosed() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
}

// IsClosed reports whether the channel is usable.
func (ch *Chan) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

// Close closes only this channel.
func (ch *Chan) Close() error {
	ch.markClosed()
	return nil
}

func (ch *Chan) checkOpen() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return errors.New("rabbitmqtest: channel closed")
	}
	return nil
}

// ExchangeDeclare records the exchange. Redeclaring with a different
// kind fails, matching broker behavior.
func (ch *Chan) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if err := ch.checkOpen(); err != nil {
		return err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.exchanges[name]; ok && existing != kind {
		return fmt.Errorf("rabbitmqtest: exchange %q already declared as %s", name, existing)
	}
	b.exchanges[name] = kind
	return nil
}

// QueueDeclare declares or re-opens a queue. An empty name yields a
// server-generated one.
func (ch *Chan) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err := ch.checkOpen(); err != nil {
		return amqp.Queue{}, err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.nextQueue++
		name = fmt.Sprintf("amq.gen-%d", b.nextQueue)
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{name: name}
	}
	return amqp.Queue{Name: name}, nil
}

// QueueBind binds a queue to an exchange under a pattern. Duplicate
// bindings collapse, as on a real broker.
func (ch *Chan) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if err := ch.checkOpen(); err != nil {
		return err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		return fmt.Errorf("rabbitmqtest: bind to unknown queue %q", name)
	}
	for _, bd := range b.bindings {
		if bd.queue == name && bd.exchange == exchange && bd.pattern == key {
			return nil
		}
	}
	b.bindings = append(b.bindings, binding{queue: name, exchange: exchange, pattern: key})
	return nil
}

// Qos is accepted and ignored; the fake delivers one message at a time
// per consumer channel anyway.
func (ch *Chan) Qos(prefetchCount, prefetchSize int, global bool) error {
	return ch.checkOpen()
}

// Consume attaches a consumer to a queue and flushes any pending
// deliveries.
func (ch *Chan) Consume(queueName, tag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if err := ch.checkOpen(); err != nil {
		return nil, err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("rabbitmqtest: consume from unknown queue %q", queueName)
	}
	c := &consumer{tag: tag, deliveries: make(chan amqp.Delivery, 64)}
	q.consumers = append(q.consumers, c)
	for _, d := range q.pending {
		c.deliveries <- d
	}
	q.pending = nil
	return c.deliveries, nil
}

// Cancel detaches a consumer and closes its delivery channel.
func (ch *Chan) Cancel(tag string, noWait bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		for i, c := range q.consumers {
			if c.tag == tag {
				q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
				close(c.deliveries)
				return nil
			}
		}
	}
	return nil
}

// PublishWithContext routes a message to every queue whose binding
// pattern matches the routing key.
func (ch *Chan) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ch.checkOpen(); err != nil {
		return err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, Published{
		Exchange:   exchange,
		RoutingKey: key,
		Body:       msg.Body,
		Publishing: msg,
	})

	for _, bd := range b.bindings {
		if bd.exchange != exchange {
			continue
		}
		matched := bd.pattern == key ||
			(b.exchanges[exchange] == "topic" && contracts.MatchTopic(bd.pattern, contracts.EventType(key)))
		if !matched {
			continue
		}
		q := b.queues[bd.queue]
		if q == nil {
			continue
		}
		b.nextTag++
		d := amqp.Delivery{
			Acknowledger: &acknowledger{broker: b},
			DeliveryTag:  b.nextTag,
			RoutingKey:   key,
			Exchange:     exchange,
			ContentType:  msg.ContentType,
			Body:         msg.Body,
		}
		if len(q.consumers) == 0 {
			q.pending = append(q.pending, d)
			continue
		}
		// Single-consumer delivery is all the tests need.
		q.consumers[0].deliveries <- d
	}
	return nil
}
