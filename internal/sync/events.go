package sync

import (
	"time"

	"github.com/kimhsiao/pagesync/backend/internal/events"
)

// Sync event types, shared with the WebSocket stream.
const (
	SyncEventStarted          = events.EventSyncStarted
	SyncEventCompleted        = events.EventSyncCompleted
	SyncEventFailed           = events.EventSyncFailed
	SyncEventConflictDetected = events.EventSyncConflictDetected
	SyncEventRetryScheduled   = events.EventSyncRetryScheduled
)

// SyncEvent describes a step of a resource sync.
type SyncEvent struct {
	Type       string
	UserID     string
	ResourceID string
	Data       map[string]interface{}
	Timestamp  time.Time
}

// SyncEventHandler receives sync events. Implementations must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// Broadcaster is satisfied by events.Hub.
type Broadcaster interface {
	Broadcast(eventType string, data map[string]interface{})
}

type broadcastHandler struct {
	b Broadcaster
}

// NewBroadcastHandler forwards sync events to b.
func NewBroadcastHandler(b Broadcaster) SyncEventHandler {
	return broadcastHandler{b: b}
}

func (h broadcastHandler) OnSyncEvent(event SyncEvent) {
	data := make(map[string]interface{}, len(event.Data)+2)
	for k, v := range event.Data {
		data[k] = v
	}
	data["user_id"] = event.UserID
	data["resource_id"] = event.ResourceID
	h.b.Broadcast(event.Type, data)
}
