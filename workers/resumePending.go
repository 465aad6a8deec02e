package workers

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Worker_resumePending keeps stored transfers moving across restarts: every
// interval it opens a flow for each pending record nobody tracks and closes
// those that completed.
func Worker_resumePending(ctx context.Context, reg *Registry, interval time.Duration) error {
	log.Print("Starting pending transfers worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		opened, err := reg.resumePending()
		if err != nil {
			log.Errorf("Error listing pending transfers: %s", err.Error())
		} else if opened > 0 {
			log.Printf("Resumed %d pending transfers", opened)
		}

		select {
		case <-ctx.Done():
			log.Print("Pending transfers worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}
