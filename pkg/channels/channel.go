package channels

import "context"

// InboundMessage is the normalized ingress payload from any channel.
type InboundMessage struct {
	Channel      string
	AccountID    string
	Conversation string
	Sender       string
	Content      string
	Metadata     map[string]interface{}
}

// SessionKey derives the routing destination for this message.
func (m InboundMessage) SessionKey() SessionKey {
	key := NewSessionKey(m.Channel, m.AccountID)
	if m.Conversation != "" {
		key = key.WithConversation(m.Conversation)
	}
	return key
}

// DispatchFunc routes an inbound channel message into the agent loop and
// returns the reply to deliver.
type DispatchFunc func(ctx context.Context, msg InboundMessage) (string, error)

// Channel is a runnable adapter for one messaging surface. Start may
// perform network I/O; Register must not.
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch DispatchFunc) error
	Stop(ctx context.Context) error
}
