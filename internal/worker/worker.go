// Package worker runs periodic memory maintenance in the background.
package worker

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Maintainer represents the maintenance behavior needed by the worker:
// due consolidation sweeps, commitment reactivation and event retention.
type Maintainer interface {
	Maintain(ctx context.Context)
}

// Start launches the periodic maintenance loop. It returns when ctx is done.
func Start(ctx context.Context, logger *log.Logger, interval time.Duration, m Maintainer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("running maintenance pass")
			m.Maintain(ctx)
		}
	}
}
