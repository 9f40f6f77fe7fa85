// Package transport provides a uniform send/verify boundary over the
// heterogeneous mail transports an identity can be configured with.
package transport

import (
	"context"
	"fmt"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
	"github.com/sendfox/sendfox-backend/internal/model"
)

// Message is one rendered outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender is the capability set every transport variant exposes. Callers
// never branch on the variant after construction.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Verify(ctx context.Context) error
}

// New constructs the Sender for an identity, keyed on its credential kind.
func New(identity *model.SenderIdentity) (Sender, error) {
	switch identity.Kind {
	case model.KindMailbox:
		cred := identity.Credentials.Mailbox
		if cred == nil {
			return nil, appErrors.NewValidation("credentials", "mailbox credential payload missing")
		}
		return newMailboxSender(cred)
	case model.KindRelay:
		cred := identity.Credentials.Relay
		if cred == nil {
			return nil, appErrors.NewValidation("credentials", "relay credential payload missing")
		}
		return newRelaySender(cred)
	}
	return nil, appErrors.NewValidation("kind", fmt.Sprintf("unknown transport kind %q", identity.Kind))
}
