// queue-drain replays the offline queue once and prints what remains.
// Ops tooling for a counter device whose queue stalled on DEAD entries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/models"
	"github.com/mmdatafocus/pos_engine/queue"
	"github.com/mmdatafocus/pos_engine/remote"
)

func main() {
	revive := flag.Bool("revive", false, "reset DEAD entries to PENDING before draining")
	flag.Parse()

	logger := config.GetLogger()
	config.ConnectLocalDBWithRetry()
	db := config.GetLocalDB()
	if err := models.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	client, err := remote.NewClient(os.Getenv("REMOTE_API_KEY"))
	if err != nil {
		log.Fatalf("remote client: %v", err)
	}
	scopeId := config.ScopeId()
	q := queue.New(db, logger, client, scopeId)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *revive {
		res := db.WithContext(ctx).Model(&models.PendingWrite{}).
			Where("scope_id = ? AND status = ?", scopeId, models.PendingWriteStatusDead).
			Updates(map[string]interface{}{
				"status":          models.PendingWriteStatusPending,
				"attempts":        0,
				"next_attempt_at": nil,
			})
		if res.Error != nil {
			log.Fatalf("revive: %v", res.Error)
		}
		fmt.Printf("revived %d dead entries\n", res.RowsAffected)
	}

	if err := q.Drain(ctx); err != nil {
		log.Fatalf("drain: %v", err)
	}

	depth, _ := q.Depth(ctx)
	dead, _ := q.Dead(ctx)
	fmt.Printf("remaining: %d pending, %d dead\n", depth, len(dead))
	for _, d := range dead {
		lastErr := ""
		if d.LastError != nil {
			lastErr = *d.LastError
		}
		fmt.Printf("  dead local_id=%s attempts=%d err=%s\n", d.LocalId, d.Attempts, lastErr)
	}
}
