// Package notify tells operators about outbox entries that gave up.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crmsync/internal/models"
	"crmsync/internal/syncbridge"
)

var (
	_ syncbridge.Alerter = Multi(nil)
	_ syncbridge.Alerter = Nop{}
)

// Multi sends to every alerter and joins their errors.
type Multi []syncbridge.Alerter

func (m Multi) DeadLetter(ctx context.Context, e *models.OutboxEntry) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.DeadLetter(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) DeadLetter(context.Context, *models.OutboxEntry) error { return nil }

// Subject is the one-line summary used as mail subject.
func Subject(e *models.OutboxEntry) string {
	return fmt.Sprintf("[crmsync] %s gave up after %d attempt(s)", e.Payload.Action, e.Attempts)
}

// FormatDeadLetter renders e as plain text lines.
func FormatDeadLetter(e *models.OutboxEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outbox entry %s is dead\n", e.ID)
	fmt.Fprintf(&b, "Owner: %s\n", e.OwnerID)
	fmt.Fprintf(&b, "Action: %s\n", e.Payload.Action)
	if e.Payload.DealID != nil {
		fmt.Fprintf(&b, "Deal: %s\n", *e.Payload.DealID)
	}
	if e.Payload.DealTitle != "" {
		fmt.Fprintf(&b, "Title: %s\n", e.Payload.DealTitle)
	}
	fmt.Fprintf(&b, "Attempts: %d\n", e.Attempts)
	if e.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", e.LastError)
	}
	b.WriteString("Retry with: crmsync outbox retry " + e.ID.String())
	return b.String()
}
