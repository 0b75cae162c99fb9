// Package adapter defines the notification boundary: after a file is
// registered, the registry hands a FileRegisteredEvent to an Adapter, which
// forwards it to a downstream system. Delivery is best effort.
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/justapithecus/edman/types"
)

// EventType is the event_type field of every published notification.
const EventType = "file_registered"

// DefaultInitialBackoff is the wait before the first retry; it doubles on
// each later retry.
const DefaultInitialBackoff = 500 * time.Millisecond

// Adapter publishes registration events.
type Adapter interface {
	// Publish delivers one event. It must honour ctx cancellation.
	Publish(ctx context.Context, event *types.FileRegisteredEvent) error
	Close() error
}

// Notification is the JSON body adapters send.
type Notification struct {
	EventType       string `json:"event_type"`
	ProtocolVersion string `json:"protocol_version"`
	*types.FileRegisteredEvent
}

// Encode renders event as a Notification.
func Encode(event *types.FileRegisteredEvent) ([]byte, error) {
	return json.Marshal(Notification{
		EventType:           EventType,
		ProtocolVersion:     types.ProtocolVersion,
		FileRegisteredEvent: event,
	})
}

// Retry runs op once plus up to retries more times, waiting initial, then
// twice as long, between attempts. An error wrapped with backoff.Permanent
// stops the loop at once. The last error is returned.
func Retry(ctx context.Context, retries int, initial time.Duration, op func(ctx context.Context) error) error {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op(ctx)
	}, b)
}
