// Package broadcast defines the port for pushing live orchestration
// events (task status changes, stuck flags, staging activity, profile
// swaps) to connected clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client. Event
// types follow a dotted "entity.action" convention, e.g. "task.status".
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
