// Package push maintains the long-lived websocket to the CRM push
// gateway. It reconnects with capped exponential backoff, keeps the
// connection alive with periodic pings, and normalizes inbound frames
// into bus events. Delivery is best effort: fallback polling elsewhere
// guarantees correctness when the channel is down.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/model"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frame is the wire shape of a push gateway event. Frames that do not
// decode into a recognized type are keepalive echoes or noise and are
// dropped without logging at error level.
type frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Options tunes the manager. Zero values select defaults.
type Options struct {
	Keepalive   time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Keepalive <= 0 {
		o.Keepalive = 30 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
}

// Manager owns the push websocket lifecycle.
type Manager struct {
	url     string
	opts    Options
	bus     *bus.Bus
	machine *Machine
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a push manager for the given authenticated
// websocket URL. logger may be nil.
func NewManager(url string, opts Options, b *bus.Bus, machine *Machine, logger *zap.Logger) *Manager {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		url:     url,
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}
}

// Start launches the connect/reconnect loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	go m.run(ctx, done)
}

// Stop tears the channel down without triggering a reconnect and
// cancels all pending backoff and keepalive timers.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	_ = m.machine.Transition(Stopped)
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := newBackoff(m.opts.BackoffBase, m.opts.BackoffMax)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = m.machine.Transition(Connecting)

		conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
		if err != nil {
			m.logger.Warn("push channel dial failed", zap.Error(err), zap.Duration("retry_in", delay.current()))
			_ = m.machine.Transition(Closed)
			if !sleep(ctx, delay.current()) {
				return
			}
			delay.advance()
			continue
		}

		_ = m.machine.Transition(Open)
		m.logger.Info("push channel open")
		// Any successful open resets the backoff to its base delay.
		delay.reset()

		m.serve(ctx, conn)

		_ = m.machine.Transition(Closed)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("push channel closed", zap.Duration("retry_in", delay.current()))
		if !sleep(ctx, delay.current()) {
			return
		}
		delay.advance()
	}
}

// serve reads frames until the connection drops or ctx is canceled.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	// Writer goroutine: gorilla allows a single concurrent writer, so
	// keepalives get their own loop and the reader never writes.
	stopPing := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.opts.Keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			case <-stopPing:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		m.dispatch(data)
	}
	close(stopPing)
	wg.Wait()
}

// dispatch normalizes one inbound frame into a bus event.
func (m *Manager) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		// Keepalive echo or garbage.
		return
	}

	evt := model.PushEvent{ConversationID: f.ConversationID}
	switch f.Type {
	case "new_message":
		m.bus.Publish(bus.Event{Kind: bus.KindPushNewMessage, Timestamp: time.Now(), Payload: evt})
	case "conversation_update":
		m.bus.Publish(bus.Event{Kind: bus.KindPushConversationUpdate, Timestamp: time.Now(), Payload: evt})
	default:
		m.logger.Debug("unrecognized push frame", zap.String("type", f.Type))
	}
}

// backoff tracks the reconnect delay: every failed cycle doubles it up
// to the cap, and one successful open resets it to the base value.
type backoff struct {
	base, max time.Duration
	cur       time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, cur: base}
}

func (b *backoff) current() time.Duration {
	return b.cur
}

func (b *backoff) advance() {
	next := b.cur * 2
	if next > b.max {
		next = b.max
	}
	b.cur = next
}

func (b *backoff) reset() {
	b.cur = b.base
}

// sleep waits for d or until ctx is canceled. Reports whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
