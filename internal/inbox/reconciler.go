package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/cache"
	"github.com/caiofmo/zapdesk/internal/model"
	"go.uber.org/zap"
)

// ErrSendInFlight is returned when a pending insert is attempted while
// another send is outstanding for the same conversation.
var ErrSendInFlight = errors.New("send already in flight")

// MessageAPI is the slice of the CRM client the reconciler needs.
type MessageAPI interface {
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Snapshot is the payload of message.snapshot events: the full visible
// thread after a reconciler mutation.
type Snapshot struct {
	ConversationID string
	Messages       []model.Message
}

// thread is the per-conversation reconciliation state: the last
// confirmed server snapshot plus locally pending sends, with a
// monotonic sequence guard so a slow response cannot overwrite a
// newer one.
type thread struct {
	confirmed []model.Message
	pending   []model.Message

	sendInFlight bool
	nextSeq      uint64
	appliedSeq   uint64
}

// Reconciler merges confirmed and pending message sets into one
// ordered view per conversation.
//
// The visible list is always the confirmed snapshot followed by the
// surviving pending entries, in insertion order. No timestamp re-sort
// is applied: messages arrive in creation order and pending entries
// are newer than anything confirmed.
type Reconciler struct {
	mu     sync.Mutex
	api    MessageAPI
	cache  *cache.Cache
	bus    *bus.Bus
	logger *zap.Logger

	threads map[string]*thread
}

// NewReconciler creates a reconciler. logger may be nil.
func NewReconciler(api MessageAPI, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		api:     api,
		cache:   c,
		bus:     b,
		logger:  logger,
		threads: make(map[string]*thread),
	}
}

func (r *Reconciler) thread(conversationID string) *thread {
	th, ok := r.threads[conversationID]
	if !ok {
		th = &thread{}
		r.threads[conversationID] = th
	}
	return th
}

// Refresh fetches a confirmed snapshot and merges it.
//
// While a send is in flight for the conversation, unforced refreshes
// are skipped so a fetch started before the optimistic insert cannot
// overwrite it. Push-driven refreshes pass forced=true and always go
// through: a real inbound message must never wait on an unrelated
// outbound send.
func (r *Reconciler) Refresh(ctx context.Context, conversationID string, forced bool) error {
	r.mu.Lock()
	th := r.thread(conversationID)
	if th.sendInFlight && !forced {
		r.mu.Unlock()
		return nil
	}
	th.nextSeq++
	seq := th.nextSeq
	r.mu.Unlock()

	msgs, err := r.api.ListMessages(ctx, conversationID)
	if err != nil {
		r.logger.Warn("thread refresh failed, keeping stale snapshot",
			zap.String("conversation", conversationID), zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq <= th.appliedSeq {
		// A newer response already landed; this one is stale.
		return nil
	}
	th.appliedSeq = seq

	th.confirmed = msgs
	confirmedIDs := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		confirmedIDs[m.ID] = struct{}{}
	}

	// Keep only pending entries the snapshot has not acknowledged.
	// Entries still awaiting a send response have an empty id and are
	// always retained.
	kept := th.pending[:0]
	for _, p := range th.pending {
		if p.ID != "" {
			if _, ack := confirmedIDs[p.ID]; ack {
				continue
			}
		}
		kept = append(kept, p)
	}
	th.pending = kept

	r.publishVisibleLocked(conversationID, th)
	return nil
}

// Messages returns the visible thread: confirmed then pending. Before
// the first successful fetch it falls back to the cached snapshot.
func (r *Reconciler) Messages(conversationID string) []model.Message {
	r.mu.Lock()
	th, ok := r.threads[conversationID]
	if !ok || (th.confirmed == nil && len(th.pending) == 0) {
		r.mu.Unlock()
		return r.cache.Messages(conversationID)
	}
	visible := visibleLocked(th)
	r.mu.Unlock()
	return visible
}

// InsertPending appends a locally created message and marks the
// conversation's composer busy. Returns ErrSendInFlight if another
// send is outstanding.
func (r *Reconciler) InsertPending(conversationID string, msg model.Message) error {
	r.mu.Lock()
	th := r.thread(conversationID)
	if th.sendInFlight {
		r.mu.Unlock()
		return ErrSendInFlight
	}
	th.sendInFlight = true
	th.pending = append(th.pending, msg)
	r.publishVisibleLocked(conversationID, th)
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Timestamp: time.Now(), Payload: msg})
	return nil
}

// ResolvePending swaps the pending entry identified by clientID for
// the server-returned message, in the same visual slot, without
// waiting for the next snapshot fetch. If a push-triggered snapshot
// already delivered the server copy, the pending entry is dropped
// instead so the id never appears twice.
func (r *Reconciler) ResolvePending(conversationID, clientID string, server model.Message) bool {
	server.ClientID = clientID

	r.mu.Lock()
	th := r.thread(conversationID)
	th.sendInFlight = false

	idx := -1
	for i, p := range th.pending {
		if p.ClientID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	duplicate := false
	for _, m := range th.confirmed {
		if m.ID == server.ID {
			duplicate = true
			break
		}
	}
	if duplicate {
		th.pending = append(th.pending[:idx], th.pending[idx+1:]...)
	} else {
		th.pending[idx] = server
	}
	r.publishVisibleLocked(conversationID, th)
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: bus.KindMessageUpserted, Timestamp: time.Now(), Payload: server})
	return true
}

// FailPending removes a pending entry after a failed send, restoring
// the pre-send view.
func (r *Reconciler) FailPending(conversationID, clientID string) bool {
	r.mu.Lock()
	th := r.thread(conversationID)
	th.sendInFlight = false

	idx := -1
	for i, p := range th.pending {
		if p.ClientID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	th.pending = append(th.pending[:idx], th.pending[idx+1:]...)
	r.publishVisibleLocked(conversationID, th)
	r.mu.Unlock()
	return true
}

// SendInFlight reports whether a send is outstanding for the
// conversation's composer.
func (r *Reconciler) SendInFlight(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.threads[conversationID]
	return ok && th.sendInFlight
}

func visibleLocked(th *thread) []model.Message {
	visible := make([]model.Message, 0, len(th.confirmed)+len(th.pending))
	visible = append(visible, th.confirmed...)
	visible = append(visible, th.pending...)
	return visible
}

// publishVisibleLocked writes the merged view through to the cache and
// announces it. Callers hold r.mu.
func (r *Reconciler) publishVisibleLocked(conversationID string, th *thread) {
	visible := visibleLocked(th)
	r.cache.SetMessages(conversationID, visible)
	r.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSnapshot,
		Timestamp: time.Now(),
		Payload:   Snapshot{ConversationID: conversationID, Messages: visible},
	})
}
