package mailbox

import (
	"context"
	"fmt"
	"time"

	"inboxpilot/models"
)

// MaxMessagesPerCheck caps how many candidate messages one account check
// will pull from a provider.
const MaxMessagesPerCheck = 50

// Message is a provider message normalized to the fields the processing
// pipeline cares about. ProviderID is the provider-native identifier:
// the Gmail message id, or "imap:<uid>" so the two namespaces stay
// disjoint.
type Message struct {
	ProviderID string
	From       string
	Subject    string
	Body       string
	Date       time.Time
}

// Client is the narrow mailbox surface required by the monitor: list the
// most recent unread messages for one configured account.
type Client interface {
	ListUnread(ctx context.Context, account *models.EmailAccount) ([]Message, error)
}

// Registry maps an account's provider field to its Client implementation.
type Registry map[string]Client

func (r Registry) ForProvider(provider string) (Client, error) {
	client, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported mail provider %q", provider)
	}
	return client, nil
}
