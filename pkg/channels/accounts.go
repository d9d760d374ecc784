package channels

import "strings"

// DefaultAccountID is the sentinel account for plugins without a
// multi-account concept.
const DefaultAccountID = "default"

// AccountLister is an optional plugin capability: enumerating the
// account identities the channel can operate as.
type AccountLister interface {
	ListAccountIDs(cfg map[string]interface{}) []string
}

// AccountDefaulter is an optional plugin capability: naming the account
// the channel should operate as by default.
type AccountDefaulter interface {
	DefaultAccountID(cfg map[string]interface{}) string
}

// ResolveDefaultAccountID determines which account identity a channel
// operates as. Resolution order: the explicit accountIDs argument if
// non-nil, else the plugin's own account list; then the plugin-declared
// default when non-empty (it wins over positional order); then the first
// entry of the resolved list; then the sentinel. Callers depend on
// exactly this order.
func ResolveDefaultAccountID(plugin Plugin, cfg map[string]interface{}, accountIDs []string) string {
	ids := accountIDs
	if ids == nil {
		if lister, ok := plugin.(AccountLister); ok {
			ids = lister.ListAccountIDs(cfg)
		}
	}

	if defaulter, ok := plugin.(AccountDefaulter); ok {
		if id := strings.TrimSpace(defaulter.DefaultAccountID(cfg)); id != "" {
			return id
		}
	}

	if len(ids) > 0 {
		return ids[0]
	}
	return DefaultAccountID
}

// SessionKey uniquely identifies a routing destination: channel id plus
// account id, with an optional conversation suffix for multi-
// conversation channels.
type SessionKey string

// NewSessionKey builds a session key. A blank account id resolves to the
// sentinel.
func NewSessionKey(channelID, accountID string) SessionKey {
	channelID = strings.TrimSpace(channelID)
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		accountID = DefaultAccountID
	}
	return SessionKey(channelID + ":" + accountID)
}

// WithConversation appends a conversation suffix.
func (k SessionKey) WithConversation(conversation string) SessionKey {
	conversation = strings.TrimSpace(conversation)
	if conversation == "" {
		return k
	}
	return SessionKey(string(k) + "#" + conversation)
}

// String returns the key as a string.
func (k SessionKey) String() string {
	return string(k)
}
