package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/guardian-os/guardian-risk/internal/idgen"
	"github.com/guardian-os/guardian-risk/internal/metrics"
)

// DigestBuffer accumulates sub-Note events for the daily family digest.
// Nothing below the Note threshold emits an alert of its own; it lands here
// and goes out once a day as a single summary.
type DigestBuffer struct {
	mu       sync.Mutex
	families map[string]*digestDay
}

type digestDay struct {
	events   int
	children map[string]int
	contacts map[string]struct{}
}

// NewDigestBuffer creates an empty digest buffer.
func NewDigestBuffer() *DigestBuffer {
	return &DigestBuffer{families: make(map[string]*digestDay)}
}

// Record notes one digest-tier event.
func (d *DigestBuffer) Record(familyID, childID, contactHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	day, ok := d.families[familyID]
	if !ok {
		day = &digestDay{
			children: make(map[string]int),
			contacts: make(map[string]struct{}),
		}
		d.families[familyID] = day
	}
	day.events++
	day.children[childID]++
	day.contacts[contactHash] = struct{}{}
}

// Flush emits one digest alert per family with activity and resets the
// buffer. Called by the daily digest job.
func (d *DigestBuffer) Flush(ctx context.Context, store Store, logger *slog.Logger, now time.Time) int {
	d.mu.Lock()
	families := d.families
	d.families = make(map[string]*digestDay)
	d.mu.Unlock()

	ids := make([]string, 0, len(families))
	for id := range families {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	emitted := 0
	for _, familyID := range ids {
		day := families[familyID]
		a := &Alert{
			ID:        idgen.WithPrefix("alrt_"),
			Tier:      TierDigest,
			FamilyID:  familyID,
			Trigger:   TriggerDailyDigest,
			Summary:   fmt.Sprintf("Daily digest: %d routine events across %d contact(s)", day.events, len(day.contacts)),
			CreatedAt: now,
		}
		if err := store.Create(ctx, a); err != nil {
			logger.Warn("digest alert write failed", "family", familyID, "error", err)
			continue
		}
		metrics.AlertsTotal.WithLabelValues(string(TierDigest)).Inc()
		emitted++
	}
	return emitted
}
