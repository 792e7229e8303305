package server

import (
	"context"
	"time"
)

// runTicker emits a fresh event from next every interval until ctx is done.
// While the event channel is full the ticker blocks with it.
func runTicker(ctx context.Context, interval time.Duration, events chan<- Event, next func() Event) {
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !emit(ctx, events, next()) {
				return
			}
		}
	}
}
