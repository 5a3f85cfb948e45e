package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ReadyHook runs on every successful (re)connection, before the manager
// signals ready. The subscriber registry uses it to rebind queues so no
// event is dropped into an unbound queue. Hooks receive the fresh
// channel directly; they must not call back into the manager.
type ReadyHook func(ctx context.Context, ch Channel) error

// ConnectionManager owns the single connection and channel a process
// holds to the broker. It declares the shared topology on every
// (re)connect and recovers from transport failures with capped
// exponential backoff. All channel access is serialized through the
// manager; callers never touch the connection directly.
type ConnectionManager struct {
	url         string
	dial        Dialer
	exchange    string
	dlx         string
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxRetries  int // <= 0 retries forever
	dialTimeout time.Duration
	logger      *slog.Logger

	mu           sync.RWMutex
	conn         Connection
	ch           Channel
	state        State
	attempts     int
	ready        chan struct{} // closed while connected
	gaveUp       chan struct{} // closed when the bounded retry budget is spent
	hooks        []ReadyHook
	reconnecting bool

	connectMu sync.Mutex // serializes dial attempts

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures the ConnectionManager.
type Option func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cm *ConnectionManager) { cm.logger = logger }
}

// WithDialer replaces the AMQP dialer. Tests use this to simulate
// broker availability.
func WithDialer(dial Dialer) Option {
	return func(cm *ConnectionManager) { cm.dial = dial }
}

// WithExchange sets the shared topic exchange name.
func WithExchange(name string) Option {
	return func(cm *ConnectionManager) { cm.exchange = name }
}

// WithDeadLetterExchange sets the dead-letter exchange name. Empty
// disables dead-letter topology.
func WithDeadLetterExchange(name string) Option {
	return func(cm *ConnectionManager) { cm.dlx = name }
}

// WithReconnectDelay sets the base reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(cm *ConnectionManager) { cm.baseDelay = d }
}

// WithMaxReconnectDelay caps the reconnect delay.
func WithMaxReconnectDelay(d time.Duration) Option {
	return func(cm *ConnectionManager) { cm.maxDelay = d }
}

// WithMaxRetries bounds the number of reconnection attempts per outage.
// Zero or negative retries forever, which is the default: a long-running
// service should outwait its broker.
func WithMaxRetries(n int) Option {
	return func(cm *ConnectionManager) { cm.maxRetries = n }
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(cm *ConnectionManager) { cm.dialTimeout = d }
}

// NewConnectionManager creates a manager for the given endpoint. No
// connection is attempted until Connect or ChannelContext is called.
func NewConnectionManager(url string, options ...Option) *ConnectionManager {
	cm := &ConnectionManager{
		url:         url,
		dial:        DefaultDialer,
		exchange:    "ecommerce_events",
		dlx:         "ecommerce_events.dlx",
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		dialTimeout: 30 * time.Second,
		logger:      slog.Default(),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(cm)
	}
	return cm
}

// OnReady registers a hook to run on every successful (re)connection
// before the manager signals ready.
func (cm *ConnectionManager) OnReady(hook ReadyHook) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks = append(cm.hooks, hook)
}

// Exchange returns the shared topic exchange name.
func (cm *ConnectionManager) Exchange() string { return cm.exchange }

// DeadLetterExchange returns the dead-letter exchange name, or empty if
// dead-lettering is disabled.
func (cm *ConnectionManager) DeadLetterExchange() string { return cm.dlx }

// State returns the current lifecycle state.
func (cm *ConnectionManager) State() State {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// IsConnected reports whether a live channel is available.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state == StateConnected && cm.ch != nil && !cm.ch.IsClosed()
}

// Connect establishes the initial connection, declares the topology,
// and replays ready hooks. A failure on this first call path is
// returned to the caller; if it is retryable, recovery also continues
// in the background.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	err := cm.connectOnce(ctx)
	if err != nil && IsRetryable(err) {
		cm.scheduleReconnect(false)
	}
	return err
}

// connectOnce performs a single dial-channel-declare-replay cycle.
// Attempts are serialized; a concurrent winner makes this a no-op.
func (cm *ConnectionManager) connectOnce(ctx context.Context) error {
	cm.connectMu.Lock()
	defer cm.connectMu.Unlock()

	cm.mu.Lock()
	switch cm.state {
	case StateClosing:
		cm.mu.Unlock()
		return ErrClosed
	case StateConnected:
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateConnecting
	cm.attempts++
	attempts := cm.attempts
	hooks := make([]ReadyHook, len(cm.hooks))
	copy(hooks, cm.hooks)
	cm.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type dialResult struct {
		conn Connection
		err  error
	}
	resCh := make(chan dialResult, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		resCh <- dialResult{conn, err}
	}()

	var conn Connection
	select {
	case res := <-resCh:
		if res.err != nil {
			cm.setDisconnected()
			connectionFailures.Inc()
			return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Attempts: attempts, Err: res.err}
		}
		conn = res.conn
	case <-dialCtx.Done():
		cm.setDisconnected()
		connectionFailures.Inc()
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Attempts: attempts, Err: ErrConnectionTimeout}
	case <-cm.done:
		return ErrClosed
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		cm.setDisconnected()
		connectionFailures.Inc()
		return &ConnectionError{Op: "open channel", URL: SanitizeURL(cm.url), Attempts: attempts, Err: err}
	}

	if err := cm.declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		cm.setDisconnected()
		return err
	}

	// Replay subscriptions on the fresh channel before anyone can
	// publish or consume through it.
	for _, hook := range hooks {
		if err := hook(ctx, ch); err != nil {
			ch.Close()
			conn.Close()
			cm.setDisconnected()
			return &ConnectionError{Op: "restore subscriptions", URL: SanitizeURL(cm.url), Attempts: attempts, Err: err}
		}
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	cm.mu.Lock()
	cm.conn = conn
	cm.ch = ch
	cm.state = StateConnected
	cm.attempts = 0
	close(cm.ready)
	cm.mu.Unlock()

	cm.logger.Info("connected to RabbitMQ",
		"url", SanitizeURL(cm.url),
		"exchange", cm.exchange)

	go cm.watch(notify)
	return nil
}

// watch waits for the broker to drop the connection and hands over to
// the reconnect loop.
func (cm *ConnectionManager) watch(notify chan *amqp.Error) {
	select {
	case amqpErr := <-notify:
		cm.mu.Lock()
		if cm.state == StateClosing {
			cm.mu.Unlock()
			return
		}
		cm.conn = nil
		cm.ch = nil
		cm.state = StateDisconnected
		cm.ready = make(chan struct{})
		cm.mu.Unlock()

		if amqpErr != nil {
			cm.logger.Error("connection lost", "error", amqpErr)
		} else {
			cm.logger.Warn("connection closed by broker")
		}
		cm.scheduleReconnect(false)

	case <-cm.done:
	}
}

// scheduleReconnect starts the reconnect loop unless one is already
// running. When immediate is true the first attempt is made without an
// initial delay (used for lazy first connects).
func (cm *ConnectionManager) scheduleReconnect(immediate bool) {
	cm.mu.Lock()
	if cm.reconnecting || cm.state == StateClosing {
		cm.mu.Unlock()
		return
	}
	cm.reconnecting = true
	cm.gaveUp = make(chan struct{})
	gaveUp := cm.gaveUp
	cm.mu.Unlock()

	go cm.connectLoop(immediate, gaveUp)
}

func (cm *ConnectionManager) connectLoop(immediate bool, gaveUp chan struct{}) {
	defer func() {
		cm.mu.Lock()
		cm.reconnecting = false
		cm.mu.Unlock()
	}()

	bo := newReconnectBackoff(cm.baseDelay, cm.maxDelay)
	for attempt := 1; ; attempt++ {
		if !immediate || attempt > 1 {
			delay := bo.NextBackOff()
			cm.logger.Info("scheduling reconnect",
				"attempt", attempt,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-cm.done:
				return
			}
		}

		err := cm.connectOnce(context.Background())
		if err == nil {
			reconnects.Inc()
			return
		}
		if !IsRetryable(err) {
			cm.logger.Error("reconnect failed permanently", "error", err)
			close(gaveUp)
			return
		}
		if cm.maxRetries > 0 && attempt >= cm.maxRetries {
			cm.logger.Error("giving up after maximum reconnection attempts",
				"attempts", attempt,
				"error", err)
			close(gaveUp)
			return
		}
		cm.logger.Warn("reconnect attempt failed",
			"attempt", attempt,
			"error", err)
	}
}

// ChannelContext returns the live channel, triggering a connect if none
// exists. It blocks until a channel is available, ctx is done, the
// manager closes, or the retry budget is exhausted.
func (cm *ConnectionManager) ChannelContext(ctx context.Context) (Channel, error) {
	for {
		cm.mu.RLock()
		state := cm.state
		ch := cm.ch
		ready := cm.ready
		gaveUp := cm.gaveUp
		cm.mu.RUnlock()

		switch state {
		case StateClosing:
			return nil, ErrClosed
		case StateConnected:
			if ch != nil && !ch.IsClosed() {
				return ch, nil
			}
			// Stale channel while the close notification is still in
			// flight; give the watcher a moment to flip the state.
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-cm.done:
				return nil, ErrClosed
			}
			continue
		case StateDisconnected:
			cm.scheduleReconnect(true)
			cm.mu.RLock()
			ready = cm.ready
			gaveUp = cm.gaveUp
			cm.mu.RUnlock()
		}

		if gaveUp == nil {
			gaveUp = make(chan struct{}) // never closed; wait on ready
		}
		select {
		case <-ready:
		case <-gaveUp:
			return nil, ErrMaxRetriesExceeded
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cm.done:
			return nil, ErrClosed
		}
	}
}

// Attempts returns the dial attempts made since the last successful
// connection.
func (cm *ConnectionManager) Attempts() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.attempts
}

// Close shuts the manager down: pending reconnect timers are cancelled,
// then the channel and connection are closed, in that order. Safe to
// call more than once.
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		cm.mu.Lock()
		cm.state = StateClosing
		conn, ch := cm.conn, cm.ch
		cm.conn = nil
		cm.ch = nil
		cm.mu.Unlock()

		close(cm.done)

		if ch != nil {
			ch.Close()
		}
		if conn != nil {
			err = conn.Close()
		}
		cm.logger.Info("connection manager closed")
	})
	return err
}

func (cm *ConnectionManager) setDisconnected() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.state != StateClosing {
		cm.state = StateDisconnected
	}
}

// newReconnectBackoff builds the reconnect schedule:
// min(base * 2^attempt, max), no jitter, no overall deadline. Delays
// are monotone non-decreasing and the schedule resets after every
// successful connect because a fresh backoff is built per outage.
func newReconnectBackoff(base, ceiling time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = ceiling
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
