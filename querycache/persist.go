package querycache

import (
	"context"
	"encoding/json"
	"time"
)

type snapshot struct {
	Timestamp int64           `json:"timestamp"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Key       string `json:"key"`
	Data      []byte `json:"data"`
	FetchedAt int64  `json:"fetchedAt"`
}

// persist writes every entry as one snapshot blob.
func (c *Cache) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.RLock()
	snap := snapshot{Timestamp: c.clock.Now().UnixMilli(), Entries: make([]snapshotEntry, 0, len(c.entries))}
	for k, e := range c.entries {
		snap.Entries = append(snap.Entries, snapshotEntry{Key: k, Data: e.data, FetchedAt: e.fetchedAt.UnixMilli()})
	}
	c.mu.RUnlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.cfg.PersistKey, string(raw))
}

// Restore loads the persisted snapshot. Snapshots older than MaxAge, and
// undecodable ones, are discarded. Entries already in memory win.
func (c *Cache) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	raw, ok, err := c.store.Get(ctx, c.cfg.PersistKey)
	if err != nil || !ok {
		return 0, err
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.log.Warn("discarding undecodable query cache snapshot")
		return 0, c.store.Delete(ctx, c.cfg.PersistKey)
	}
	now := c.clock.Now()
	if now.Sub(time.UnixMilli(snap.Timestamp)) > c.cfg.MaxAge {
		return 0, c.store.Delete(ctx, c.cfg.PersistKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range snap.Entries {
		if _, exists := c.entries[e.Key]; exists {
			continue
		}
		c.entries[e.Key] = entry{data: e.Data, fetchedAt: time.UnixMilli(e.FetchedAt)}
		n++
	}
	return n, nil
}
