package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"studio-gateway/internal/domain"
	"studio-gateway/pkg/logger"
)

const lifecycleChannel = "workflow:events:lifecycle"

// EventForwarder is a lifecycle listener that mirrors engine and reconciler
// events onto redis pub/sub for external tooling. The engine's emission call
// is synchronous, so the publish is kept short and failures are logged, never
// propagated.
type EventForwarder struct {
	client *redis.Client
	log    *logger.Logger
}

func NewEventForwarder(client *redis.Client, log *logger.Logger) *EventForwarder {
	return &EventForwarder{client: client, log: log}
}

func (f *EventForwarder) OnLifecycleEvent(event domain.LifecycleEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.log.Error("marshal lifecycle event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := f.client.Publish(ctx, lifecycleChannel, payload).Err(); err != nil {
		f.log.Error("publish lifecycle event", "kind", event.Kind, "workflow_id", event.WorkflowID, "error", err)
	}
}
