package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/model"
)

// subscriberBuffer is the channel depth per subscriber. A consumer that
// falls further behind than this loses events rather than stalling the
// migration.
const subscriberBuffer = 64

// eventBus fans progress events out to per-migration subscribers.
type eventBus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan model.MigrationProgressEvent
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string]map[int]chan model.MigrationProgressEvent)}
}

// Subscribe returns a channel of events for one migration and a cancel
// function that closes it.
func (b *eventBus) Subscribe(migrationID string) (<-chan model.MigrationProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.MigrationProgressEvent, subscriberBuffer)
	if b.subs[migrationID] == nil {
		b.subs[migrationID] = make(map[int]chan model.MigrationProgressEvent)
	}
	id := b.next
	b.next++
	b.subs[migrationID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[migrationID][id]; ok {
			delete(b.subs[migrationID], id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its migration.
// Delivery never blocks the orchestrator.
func (b *eventBus) Publish(evt model.MigrationProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[evt.MigrationID] {
		select {
		case ch <- evt:
		default:
			zap.L().Debug("orchestrator: dropping event for slow subscriber",
				zap.String("migration_id", evt.MigrationID),
				zap.String("type", string(evt.Type)),
			)
		}
	}
}

// event builds a progress event stamped with the given clock.
func event(now func() time.Time, typ model.ProgressEventType, migrationID string, data map[string]any) model.MigrationProgressEvent {
	return model.MigrationProgressEvent{
		Type:        typ,
		MigrationID: migrationID,
		Data:        data,
		Timestamp:   now().UTC(),
	}
}
