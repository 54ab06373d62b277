package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"gear_checkout/models"

	"github.com/google/uuid"
)

// Backlog holds audit entries whose append failed so they can be retried
// without rolling back the equipment change they describe.
type Backlog interface {
	Push(ctx context.Context, entry models.Log) error
	// Drain hands entries to fn oldest first and stops at the first error,
	// leaving that entry and the rest queued.
	Drain(ctx context.Context, fn func(models.Log) error) (int, error)
	Len(ctx context.Context) (int64, error)
}

type MemoryBacklog struct {
	mu      sync.Mutex
	entries []models.Log
}

func NewMemoryBacklog() *MemoryBacklog { return &MemoryBacklog{} }

func (b *MemoryBacklog) Push(_ context.Context, entry models.Log) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	return nil
}

func (b *MemoryBacklog) Drain(_ context.Context, fn func(models.Log) error) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for len(b.entries) > 0 {
		if err := fn(b.entries[0]); err != nil {
			return n, err
		}
		b.entries = b.entries[1:]
		n++
	}
	return n, nil
}

func (b *MemoryBacklog) Len(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.entries)), nil
}

// record appends one audit entry. A failed append is queued on the backlog
// and never fails the caller.
func (e *Engine) record(ctx context.Context, action models.Action, entityID, actorID, details string) {
	entry := models.Log{
		ID:        uuid.NewString(),
		Action:    action,
		EntityID:  entityID,
		Timestamp: e.now(),
		Details:   details,
	}
	if actorID != "" {
		actor := actorID
		entry.UserID = &actor
	}
	err := e.store.AppendLog(ctx, &entry)
	if err == nil {
		return
	}
	log.Printf("[audit] append %s %s failed: %v; queued for retry", action, entityID, err)
	e.obs.ObserveBacklog("queued")
	// the request context may already be gone; the entry must still land
	if perr := e.backlog.Push(context.WithoutCancel(ctx), entry); perr != nil {
		log.Printf("[audit] backlog push %s %s failed: %v; entry dropped: %+v", action, entityID, perr, entry)
		e.obs.ObserveBacklog("dropped")
	}
}

// RecordUserEvent logs an account change (role, activation, sessions)
// made outside the engine.
func (e *Engine) RecordUserEvent(ctx context.Context, userID, actorID, details string) {
	e.record(ctx, models.ActionUser, userID, actorID, details)
}

// FlushAuditBacklog retries queued audit entries and returns how many landed.
func (e *Engine) FlushAuditBacklog(ctx context.Context) (int, error) {
	n, err := e.backlog.Drain(ctx, func(entry models.Log) error {
		err := e.store.AppendLog(ctx, &entry)
		if errors.Is(err, ErrDuplicate) {
			return nil // landed on an earlier attempt
		}
		return err
	})
	for range n {
		e.obs.ObserveBacklog("flushed")
	}
	if err != nil {
		return n, fmt.Errorf("flush audit backlog: %w", err)
	}
	return n, nil
}

// AuditBacklogLen reports how many audit entries are waiting for a retry.
func (e *Engine) AuditBacklogLen(ctx context.Context) (int64, error) {
	return e.backlog.Len(ctx)
}
