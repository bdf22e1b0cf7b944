package workers

import (
	"context"
	"log"
	"math"
	"time"

	"game-arena-system/services"
	"game-arena-system/utils"
)

// QueueSweeper prunes queue entries whose clients stopped polling. The queue
// keys carry a rolling TTL already; the sweeper handles the case where an
// active queue keeps the key alive while individual abandoned entries rot
// inside it.
type QueueSweeper struct {
	Queues services.QueueStore
	// Ladders to sweep; queue keys are derived per (mode, category).
	Modes      []string
	Categories []string
	MaxAge     time.Duration
}

func NewQueueSweeper(queues services.QueueStore, modes, categories []string) *QueueSweeper {
	return &QueueSweeper{
		Queues:     queues,
		Modes:      modes,
		Categories: categories,
		MaxAge:     2 * time.Minute,
	}
}

// Poll runs the sweep loop until ctx is cancelled.
func (w *QueueSweeper) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Queue sweeper started (every %s, max age %s)", interval, w.MaxAge)
	for {
		select {
		case <-ctx.Done():
			log.Println("Queue sweeper stopping...")
			return
		case <-ticker.C:
			w.SweepAll(ctx)
		}
	}
}

func (w *QueueSweeper) SweepAll(ctx context.Context) {
	for _, mode := range w.Modes {
		for _, category := range w.Categories {
			if err := w.Sweep(ctx, mode, category); err != nil {
				log.Printf("[Sweeper] sweep %s/%s failed: %v", mode, category, err)
			}
		}
	}
}

// Sweep removes entries older than MaxAge plus any member that no longer
// decodes. Only the exact member bytes read back are removed.
func (w *QueueSweeper) Sweep(ctx context.Context, mode, category string) error {
	key := utils.QueueKey(mode, category)
	members, err := w.Queues.RangeByScore(ctx, key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-w.MaxAge).Unix()
	removed := int64(0)
	for _, m := range members {
		entry, err := services.DecodeQueueEntry(m.Member)
		if err != nil {
			n, _ := w.Queues.Dequeue(ctx, key, m.Member)
			removed += n
			continue
		}
		if entry.JoinedAt < cutoff {
			if n, err := w.Queues.Dequeue(ctx, key, m.Member); err == nil {
				removed += n
			}
		}
	}
	if removed > 0 {
		log.Printf("[Sweeper] pruned %d stale entries from %s", removed, key)
	}
	return nil
}
