// Package outbound turns a user send action into an optimistic insert,
// a network call, and a settle-or-rollback transition.
package outbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned for a send with no content after trimming.
var ErrEmptyMessage = errors.New("empty message")

// MessageSender is the slice of the CRM client the pipeline needs.
type MessageSender interface {
	SendText(ctx context.Context, conversationID, text string) (model.Message, error)
	SendMedia(ctx context.Context, conversationID string, data []byte, mimetype, caption string) (model.Message, error)
	SendTyping(ctx context.Context, conversationID string) error
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	ConversationID string
	ClientID       string
	Err            string
}

// Pipeline owns the optimistic send lifecycle. At most one send is in
// flight per conversation composer; the reconciler enforces that
// atomically at insert time.
type Pipeline struct {
	api    MessageSender
	rec    *inbox.Reconciler
	bus    *bus.Bus
	logger *zap.Logger

	typing *typingLimiter
	now    func() time.Time
}

// NewPipeline creates a send pipeline. logger may be nil.
func NewPipeline(api MessageSender, rec *inbox.Reconciler, b *bus.Bus, typingInterval time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if typingInterval <= 0 {
		typingInterval = 3 * time.Second
	}
	return &Pipeline{
		api:    api,
		rec:    rec,
		bus:    b,
		logger: logger,
		typing: newTypingLimiter(typingInterval),
		now:    time.Now,
	}
}

// SendText sends trimmed text with immediate local feedback. The
// pending entry is visible before the network call starts and is
// swapped in place for the server copy on success, or removed on
// failure.
func (p *Pipeline) SendText(ctx context.Context, conversationID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	pending := model.Message{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		FromMe:         true,
		Body:           text,
		Type:           model.TypeText,
		Sent:           true,
		CreatedAt:      p.now(),
	}
	pending.Decode()
	return p.run(ctx, pending, func(ctx context.Context) (model.Message, error) {
		return p.api.SendText(ctx, conversationID, text)
	})
}

// SendMedia sends raw bytes with a mimetype and optional caption. The
// pending placeholder is classified (image/audio/video/document) so
// the view can render the right preview while the upload runs.
func (p *Pipeline) SendMedia(ctx context.Context, conversationID string, data []byte, mimetype, caption string) error {
	if len(data) == 0 {
		return ErrEmptyMessage
	}

	pending := model.Message{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		FromMe:         true,
		Body:           caption,
		Type:           model.ClassifyMedia(mimetype),
		Sent:           true,
		CreatedAt:      p.now(),
	}
	pending.Decode()
	return p.run(ctx, pending, func(ctx context.Context) (model.Message, error) {
		return p.api.SendMedia(ctx, conversationID, data, mimetype, caption)
	})
}

// run executes the shared pending/confirm/rollback lifecycle.
func (p *Pipeline) run(ctx context.Context, pending model.Message, send func(context.Context) (model.Message, error)) error {
	if err := p.rec.InsertPending(pending.ConversationID, pending); err != nil {
		// Re-entrant call while a send is outstanding: ignored.
		return err
	}

	server, err := send(ctx)
	if err != nil {
		p.logger.Error("send failed, rolling back pending entry",
			zap.String("conversation", pending.ConversationID),
			zap.String("client_id", pending.ClientID),
			zap.Error(err))
		p.rec.FailPending(pending.ConversationID, pending.ClientID)
		p.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendFailed,
			Timestamp: time.Now(),
			Payload: SendFailure{
				ConversationID: pending.ConversationID,
				ClientID:       pending.ClientID,
				Err:            err.Error(),
			},
		})
		return err
	}

	p.rec.ResolvePending(pending.ConversationID, pending.ClientID, server)
	p.logger.Info("message sent",
		zap.String("client_id", pending.ClientID),
		zap.String("server_id", server.ID))
	p.bus.Publish(bus.Event{Kind: bus.KindMessageSendAck, Timestamp: time.Now(), Payload: server})
	return nil
}

// Typing emits a typing-presence signal, rate-limited to one per
// interval of continuous typing. Failures are swallowed: presence is
// best effort and independent of the send path.
func (p *Pipeline) Typing(ctx context.Context, conversationID string) {
	if !p.typing.allow(conversationID, p.now()) {
		return
	}
	if err := p.api.SendTyping(ctx, conversationID); err != nil {
		p.logger.Debug("typing notify failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}
