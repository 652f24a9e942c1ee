package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/buntdb"

	"github.com/raykavin/trailbot/core"
)

// Key prefixes inside the closed-positions database. Each close writes one
// record key plus a marker key per originating fill, so re-ingestion checks
// are a single point lookup.
const (
	closedKeyPrefix = "closed:"
	fillKeyPrefix   = "fill:"
)

// BuntClosedLog implements core.ClosedLog using BuntDB.
type BuntClosedLog struct {
	db *buntdb.DB
}

// NewBuntClosedLog opens (or creates) the closed-positions database.
// Use ":memory:" for an ephemeral log in tests.
func NewBuntClosedLog(file string) (*BuntClosedLog, error) {
	db, err := buntdb.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open closed log: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{
		SyncPolicy: buntdb.EverySecond,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure closed log: %w", err)
	}

	return &BuntClosedLog{db: db}, nil
}

// Append implements core.ClosedLog.
func (b *BuntClosedLog) Append(pair string, position *core.TrailingPosition) error {
	content, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("failed to marshal closed position: %w", err)
	}

	return b.db.Update(func(tx *buntdb.Tx) error {
		key := closedKeyPrefix + pair + ":" + position.ID
		if _, _, err := tx.Set(key, string(content), nil); err != nil {
			return fmt.Errorf("failed to store closed position: %w", err)
		}

		for _, fillID := range position.OpeningOrder {
			marker := fillKeyPrefix + pair + ":" + fillID
			if _, _, err := tx.Set(marker, position.ID, nil); err != nil {
				return fmt.Errorf("failed to store fill marker: %w", err)
			}
		}

		return nil
	})
}

// Contains implements core.ClosedLog.
func (b *BuntClosedLog) Contains(pair, fillID string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(fillKeyPrefix + pair + ":" + fillID)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to query fill marker: %w", err)
	}
	return found, nil
}

// Closed returns the closed positions of a pair, keyed by position id.
// The control plane uses it for historical queries.
func (b *BuntClosedLog) Closed(pair string) (map[string]*core.TrailingPosition, error) {
	closed := make(map[string]*core.TrailingPosition)
	prefix := closedKeyPrefix + pair + ":"

	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var position core.TrailingPosition
			if err := json.Unmarshal([]byte(value), &position); err != nil {
				return true // skip unreadable record, keep iterating
			}
			closed[strings.TrimPrefix(key, prefix)] = &position
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate closed positions: %w", err)
	}

	return closed, nil
}

// Close implements core.ClosedLog.
func (b *BuntClosedLog) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
