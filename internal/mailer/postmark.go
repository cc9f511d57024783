package mailer

import (
	"context"
	"fmt"

	"github.com/keighl/postmark"

	"github.com/cartstream/storefront/internal/domain/notify"
)

// Postmark sends email through the Postmark API.
type Postmark struct {
	client *postmark.Client
	from   string
}

// NewPostmark returns a Postmark mailer for the given server token.
func NewPostmark(serverToken, from string) *Postmark {
	return &Postmark{
		client: postmark.NewClient(serverToken, ""),
		from:   from,
	}
}

// Send delivers e. The Postmark client has no context support, so a
// cancelled ctx is only honoured before the request starts.
func (m *Postmark) Send(ctx context.Context, e notify.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.SendEmail(postmark.Email{
		From:     m.from,
		To:       e.To,
		Subject:  e.Subject,
		TextBody: e.Body,
		Tag:      "storefront",
	})
	if err != nil {
		return fmt.Errorf("postmark send to %q: %w", e.To, err)
	}
	return nil
}

func (m *Postmark) Close() error { return nil }
