// Package notifier tells the user about finished downloads through desktop
// notifications and Discord webhooks.
package notifier

import (
	"context"
	"errors"
)

// Message is a single notification.
type Message struct {
	Title string
	Body  string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi sends every message to all of its notifiers.
type Multi []Notifier

// Notify delivers msg to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error

	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
