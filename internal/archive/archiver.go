// Package archive persists confirmed conversations and messages into
// the local SQLite database so browsing and search keep working when
// the server trims history or the connection is down.
package archive

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/model"
	"github.com/caiofmo/zapdesk/internal/store"
)

// Archiver subscribes to domain events and writes confirmed state into
// the archive database. It never writes pending messages: a send that
// has not been acknowledged has no durable identity yet.
type Archiver struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Archiver {
	return &Archiver{
		db:     db,
		bus:    b,
		logger: logger.Named("archive"),
	}
}

// Start begins consuming events until Stop or context cancellation.
func (a *Archiver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	convCh, unsubConv := a.bus.Subscribe(bus.KindConversationRefreshed, 64)
	snapCh, unsubSnap := a.bus.Subscribe(bus.KindMessageSnapshot, 64)
	ackCh, unsubAck := a.bus.Subscribe(bus.KindMessageSendAck, 64)

	go func() {
		defer close(a.done)
		defer unsubConv()
		defer unsubSnap()
		defer unsubAck()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-convCh:
				if convs, ok := evt.Payload.([]model.Conversation); ok {
					a.archiveConversations(convs)
				}
			case evt := <-snapCh:
				if snap, ok := evt.Payload.(inbox.Snapshot); ok {
					a.archiveMessages(snap.Messages)
				}
			case evt := <-ackCh:
				if msg, ok := evt.Payload.(model.Message); ok {
					a.archiveMessages([]model.Message{msg})
				}
			}
		}
	}()
}

// Stop halts event consumption and waits for the worker to exit.
func (a *Archiver) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Archiver) archiveConversations(convs []model.Conversation) {
	for i := range convs {
		c := &convs[i]
		row := &store.Conversation{
			ID:              c.ID,
			ContactName:     c.ContactName,
			ContactPhone:    c.ContactPhone,
			Status:          string(c.Status),
			AssigneeID:      c.AssigneeID,
			LastMessage:     c.LastMessage,
			LastMessageType: string(c.LastMessageType),
			UnreadCount:     c.UnreadCount,
			UpdatedAt:       c.UpdatedAt.UnixMilli(),
		}
		if err := a.db.UpsertConversation(row); err != nil {
			a.logger.Warn("archive conversation failed",
				zap.String("conversation_id", c.ID),
				zap.Error(err))
		}
	}
}

func (a *Archiver) archiveMessages(msgs []model.Message) {
	for i := range msgs {
		m := &msgs[i]
		if m.Pending() {
			continue
		}
		row := &store.Message{
			ConversationID: m.ConversationID,
			MsgID:          m.ID,
			FromMe:         m.FromMe,
			Body:           m.Body,
			MessageType:    string(m.Type),
			Delivered:      m.Delivered,
			Read:           m.Read,
			IsSystem:       m.IsSystem,
			CreatedAt:      m.CreatedAt.UnixMilli(),
		}
		if m.Media != nil {
			row.MediaURL = m.Media.URL
			row.MediaMimetype = m.Media.Mimetype
		}
		if err := a.db.UpsertMessage(row); err != nil {
			a.logger.Warn("archive message failed",
				zap.String("conversation_id", m.ConversationID),
				zap.String("msg_id", m.ID),
				zap.Error(err))
		}
	}
}
