package notify

import "context"

// Notifier delivers transactional email through the external mail service.
// Delivery is best-effort everywhere it is used: a failed send is logged by
// the caller and never rolls back the operation that triggered it.
type Notifier interface {
	// SendAccessCode mails a freshly issued code to the buyer.
	SendAccessCode(ctx context.Context, email, code string) error

	// SendApproval mails the approval notice used by the affiliate flow.
	SendApproval(ctx context.Context, email string) error
}

// Nop discards every notification. Used in tests and when no mailer is
// configured.
type Nop struct{}

func (Nop) SendAccessCode(ctx context.Context, email, code string) error { return nil }
func (Nop) SendApproval(ctx context.Context, email string) error         { return nil }
