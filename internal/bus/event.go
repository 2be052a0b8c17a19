package bus

import "time"

// Event kinds published across the daemon. Subscribers filter by
// namespace prefix, e.g. "push." or "message.".
const (
	KindPushNewMessage         = "push.new_message"
	KindPushConversationUpdate = "push.conversation_update"
	KindChannelStateChanged    = "channel.state_changed"
	KindConversationRefreshed  = "conversation.refreshed"
	KindConversationPatched    = "conversation.patched"
	KindMessageSnapshot        = "message.snapshot"
	KindMessageUpserted        = "message.upserted"
	KindMessageSendAck         = "message.send_ack"
	KindMessageSendFailed      = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
