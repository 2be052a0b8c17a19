// Package cache holds last-known-good snapshots of daemon state so a
// frontend reconnecting mid-session can paint instantly while fresh
// data is still in flight. It is a latency optimization, not a source
// of truth: every entry is overwritten wholesale by the next
// successful fetch, and staleness is expected.
package cache

import (
	"sync"

	"github.com/caiofmo/zapdesk/internal/model"
)

const (
	keyConversations = "conversations"
	keySelected      = "selected_conversation"
	keyTags          = "tags"
	keyAgents        = "agents"
	keyMessages      = "messages:"
)

// Cache is a process-lifetime snapshot store. All writes are
// whole-value replacements, which is what makes concurrent writers
// safe: the last write simply wins.
type Cache struct {
	mu sync.RWMutex
	m  map[string]any
}

// New creates an empty cache. One instance is constructed per process
// and passed by reference; there is no teardown.
func New() *Cache {
	return &Cache{m: make(map[string]any)}
}

// Get returns the last stored value for key, or nil if none. Never
// blocks beyond the internal lock, never fails.
func (c *Cache) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[key]
}

// Set overwrites the value for key atomically.
func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	c.m[key] = v
	c.mu.Unlock()
}

// Conversations returns the cached conversation list, or nil.
func (c *Cache) Conversations() []model.Conversation {
	v, _ := c.Get(keyConversations).([]model.Conversation)
	return v
}

// SetConversations replaces the cached conversation list.
func (c *Cache) SetConversations(list []model.Conversation) {
	c.Set(keyConversations, list)
}

// Messages returns the cached thread for a conversation, or nil.
func (c *Cache) Messages(conversationID string) []model.Message {
	v, _ := c.Get(keyMessages + conversationID).([]model.Message)
	return v
}

// SetMessages replaces the cached thread for a conversation.
func (c *Cache) SetMessages(conversationID string, msgs []model.Message) {
	c.Set(keyMessages+conversationID, msgs)
}

// SelectedConversation returns the id of the conversation last opened,
// or empty string.
func (c *Cache) SelectedConversation() string {
	v, _ := c.Get(keySelected).(string)
	return v
}

// SetSelectedConversation records which conversation is open.
func (c *Cache) SetSelectedConversation(id string) {
	c.Set(keySelected, id)
}

// Tags returns the cached tag reference list, or nil.
func (c *Cache) Tags() []model.Tag {
	v, _ := c.Get(keyTags).([]model.Tag)
	return v
}

// SetTags replaces the cached tag reference list.
func (c *Cache) SetTags(tags []model.Tag) {
	c.Set(keyTags, tags)
}

// Agents returns the cached agent reference list, or nil.
func (c *Cache) Agents() []model.Agent {
	v, _ := c.Get(keyAgents).([]model.Agent)
	return v
}

// SetAgents replaces the cached agent reference list.
func (c *Cache) SetAgents(agents []model.Agent) {
	c.Set(keyAgents, agents)
}
