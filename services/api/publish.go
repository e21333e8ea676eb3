package api

import "context"

// publishJSON dispatches a lifecycle event without blocking the request on
// delivery. The run record is already durable when this is called; the
// executor owns retries for missed events.
func (a *API) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if a.bus == nil || subject == "" {
		return
	}
	_ = a.bus.Publish(ctx, subject, payload)
}
