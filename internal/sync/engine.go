// Package sync drives the refresh machinery: push events and fallback
// polls both funnel into idempotent snapshot refreshes of the
// conversation store and the open thread.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/cache"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/model"
	"go.uber.org/zap"
)

// ReadMarker clears a conversation's unread counter server-side.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Options tunes the fallback poll cadence. The list poll is coarse;
// the thread poll is shorter because only one conversation is open at
// a time.
type Options struct {
	ListInterval   time.Duration
	ThreadInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.ListInterval <= 0 {
		o.ListInterval = 45 * time.Second
	}
	if o.ThreadInterval <= 0 {
		o.ThreadInterval = 10 * time.Second
	}
}

// Engine subscribes to push.* and message.* events and keeps the
// store and reconciler refreshed. It also owns the fallback poll
// loops that guarantee correctness when the push channel is down.
type Engine struct {
	store  *inbox.Store
	rec    *inbox.Reconciler
	bus    *bus.Bus
	cache  *cache.Cache
	reader ReadMarker
	logger *zap.Logger
	opts   Options

	mu           sync.Mutex
	active       string
	cancelThread context.CancelFunc
	baseCtx      context.Context
	cancel       context.CancelFunc
}

// NewEngine creates a sync engine. reader and logger may be nil.
func NewEngine(store *inbox.Store, rec *inbox.Reconciler, b *bus.Bus, c *cache.Cache, reader ReadMarker, opts Options, logger *zap.Logger) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		rec:    rec,
		bus:    b,
		cache:  c,
		reader: reader,
		logger: logger,
		opts:   opts,
	}
}

// Start subscribes to bus events and begins the list fallback poll.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.baseCtx = ctx
	e.mu.Unlock()

	pushCh, unsubPush := e.bus.Subscribe("push.", 256)
	msgCh, unsubMsg := e.bus.Subscribe(bus.KindMessageSendAck, 64)

	go func() {
		defer unsubPush()
		defer unsubMsg()

		ticker := time.NewTicker(e.opts.ListInterval)
		defer ticker.Stop()

		for {
			select {
			case evt := <-pushCh:
				e.handlePush(ctx, evt)
			case <-msgCh:
				// A successful send moves the conversation to the top
				// and updates its preview.
				_ = e.store.RefreshCurrent(ctx)
			case <-ticker.C:
				_ = e.store.RefreshCurrent(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels all loops, including the active thread poll.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	cancelThread := e.cancelThread
	e.mu.Unlock()
	if cancelThread != nil {
		cancelThread()
	}
	if cancel != nil {
		cancel()
	}
}

// handlePush turns one push event into refreshes. Both recognized
// kinds refresh the conversation list; if the affected conversation is
// the open one, the thread is refreshed too, bypassing the
// send-in-flight suppression so real inbound traffic is never delayed
// by an unrelated outbound send.
func (e *Engine) handlePush(ctx context.Context, evt bus.Event) {
	p, ok := evt.Payload.(model.PushEvent)
	if !ok {
		return
	}

	_ = e.store.RefreshCurrent(ctx)

	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	if p.ConversationID != "" && p.ConversationID == active {
		if err := e.rec.Refresh(ctx, p.ConversationID, true); err != nil {
			e.logger.Warn("push-forced thread refresh failed",
				zap.String("conversation", p.ConversationID), zap.Error(err))
		}
	}
}

// Open switches the active conversation: it cancels interest in the
// previous thread's poll loop, records the selection, loads the new
// thread, clears its unread counter, and starts the thread fallback
// poll.
func (e *Engine) Open(ctx context.Context, conversationID string) {
	e.mu.Lock()
	if e.cancelThread != nil {
		e.cancelThread()
		e.cancelThread = nil
	}
	e.active = conversationID
	// The poll loop must outlive the caller's context; only the
	// initial load below uses ctx.
	base := e.baseCtx
	if base == nil {
		base = context.Background()
	}
	threadCtx, cancel := context.WithCancel(base)
	e.cancelThread = cancel
	e.mu.Unlock()

	e.cache.SetSelectedConversation(conversationID)

	// Initial load before the first tick.
	if err := e.rec.Refresh(ctx, conversationID, false); err != nil {
		e.logger.Warn("initial thread load failed", zap.String("conversation", conversationID), zap.Error(err))
	}

	e.markRead(ctx, conversationID)

	go func() {
		ticker := time.NewTicker(e.opts.ThreadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = e.rec.Refresh(threadCtx, conversationID, false)
			case <-threadCtx.Done():
				return
			}
		}
	}()
}

// Close deselects the active conversation and cancels its poll loop.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.cancelThread != nil {
		e.cancelThread()
		e.cancelThread = nil
	}
	e.active = ""
	e.mu.Unlock()
	e.cache.SetSelectedConversation("")
}

// Active returns the open conversation id, or empty string.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// markRead zeroes the unread counter locally for immediate feedback
// and tells the server. A failure rolls back via refresh.
func (e *Engine) markRead(ctx context.Context, conversationID string) {
	if e.reader == nil {
		return
	}
	zero := 0
	e.store.ApplyLocalPatch(conversationID, inbox.Patch{UnreadCount: &zero})
	if err := e.reader.MarkRead(ctx, conversationID); err != nil {
		e.logger.Warn("mark read failed", zap.String("conversation", conversationID), zap.Error(err))
		_ = e.store.RefreshCurrent(ctx)
	}
}
