package ws

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"messenger-service/internal/observability"
)

const lifecycleRoutingKey = "ws_events.messenger"

func newConnID() string {
	return uuid.NewString()
}

// bearerToken extracts the credential from an Authorization header or the token query value.
func bearerToken(header, query string) string {
	if header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(query)
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	_ = observability.PublishEvent(ctx, lifecycleRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
