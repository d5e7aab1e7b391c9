package notifier

import (
	"context"
	"fmt"

	"github.com/miradorstack/outage-watch/internal/models"
)

// Notifier delivers a batch of changes, with an optional narrative, to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, changes []models.ChangeEvent, narrative string) error
}

// DeliveryError reports a notifier that could not deliver a batch.
type DeliveryError struct {
	Notifier string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notifier %s: %v", e.Notifier, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func deliveryError(name string, err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Notifier: name, Err: err}
}
