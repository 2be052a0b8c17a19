// Package inbox holds the live view of the CRM inbox: the
// conversation list and the per-conversation message threads merged
// from server snapshots and locally pending sends.
package inbox

import (
	"context"
	"time"

	"sync"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/cache"
	"github.com/caiofmo/zapdesk/internal/crm"
	"github.com/caiofmo/zapdesk/internal/model"
	"go.uber.org/zap"
)

// ConversationAPI is the slice of the CRM client the store needs.
type ConversationAPI interface {
	ListConversations(ctx context.Context, f crm.Filter) ([]model.Conversation, error)
}

// Patch is an optimistic partial update applied locally before the
// server confirms. Nil fields are untouched.
type Patch struct {
	Status      *model.Status
	AssigneeID  *string
	TagIDs      *[]string
	UnreadCount *int
}

// Store maintains the conversation list visible to the current
// session. Refreshes replace the list wholesale; there is no
// incremental patching except the optimistic ApplyLocalPatch path.
type Store struct {
	mu     sync.RWMutex
	api    ConversationAPI
	cache  *cache.Cache
	bus    *bus.Bus
	logger *zap.Logger

	items  []model.Conversation
	filter crm.Filter
}

// NewStore creates a conversation store seeded from the cache so the
// first paint does not wait for the network.
func NewStore(api ConversationAPI, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:    api,
		cache:  c,
		bus:    b,
		logger: logger,
		items:  c.Conversations(),
	}
}

// Refresh fetches the filtered list and replaces the store contents.
// On failure the previous contents are retained: a transient network
// error must never blank the screen.
func (s *Store) Refresh(ctx context.Context, f crm.Filter) error {
	list, err := s.api.ListConversations(ctx, f)
	if err != nil {
		s.logger.Warn("conversation refresh failed, keeping stale list", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.items = list
	s.filter = f
	snapshot := append([]model.Conversation(nil), list...)
	s.mu.Unlock()

	s.cache.SetConversations(snapshot)
	s.bus.Publish(bus.Event{
		Kind:      bus.KindConversationRefreshed,
		Timestamp: time.Now(),
		Payload:   snapshot,
	})
	return nil
}

// RefreshCurrent re-runs Refresh with the last applied filter.
func (s *Store) RefreshCurrent(ctx context.Context) error {
	s.mu.RLock()
	f := s.filter
	s.mu.RUnlock()
	return s.Refresh(ctx, f)
}

// Conversations returns a copy of the current list.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Conversation(nil), s.items...)
}

// Get returns a conversation by id.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.items {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// ApplyLocalPatch mutates one conversation in place for immediate
// visual feedback. The caller must follow up with a Refresh to
// reconcile with server truth, and with a rollback Refresh if the
// network call that justified the patch fails.
func (s *Store) ApplyLocalPatch(id string, p Patch) bool {
	s.mu.Lock()
	var patched *model.Conversation
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		c := &s.items[i]
		if p.Status != nil {
			c.Status = *p.Status
		}
		if p.AssigneeID != nil {
			c.AssigneeID = *p.AssigneeID
		}
		if p.TagIDs != nil {
			c.TagIDs = append([]string(nil), (*p.TagIDs)...)
		}
		if p.UnreadCount != nil {
			c.UnreadCount = *p.UnreadCount
		}
		c.UpdatedAt = time.Now()
		patched = c
		break
	}
	var snapshot []model.Conversation
	if patched != nil {
		snapshot = append([]model.Conversation(nil), s.items...)
	}
	var patchedCopy model.Conversation
	if patched != nil {
		patchedCopy = *patched
	}
	s.mu.Unlock()

	if patched == nil {
		return false
	}

	s.cache.SetConversations(snapshot)
	s.bus.Publish(bus.Event{
		Kind:      bus.KindConversationPatched,
		Timestamp: time.Now(),
		Payload:   patchedCopy,
	})
	return true
}
