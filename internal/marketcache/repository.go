// Package marketcache provides persistent caching for market data payloads.
// All data is stored as JSON blobs with expiration timestamps for cache-first
// behavior. The cache itself is TTL-agnostic storage - the TTL policy per
// dataset kind lives in configuration and is applied at write time.
package marketcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxlens/fxlens/internal/market"
)

// tableFor maps a dataset kind to its cache table.
var tableFor = map[market.Kind]string{
	market.KindPrice:   "prices",
	market.KindCandles: "candles",
	market.KindSignals: "signals",
}

// Entry is a cached payload together with its storage metadata. The caller
// decides how to treat staleness; the repository only reports it.
type Entry struct {
	Data      json.RawMessage
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still within its TTL at the given time.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Repository provides cache operations for market data.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new market cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Key builds the cache key for a symbol and timeframe.
func Key(symbol, timeframe string) string {
	return market.NormalizePair(symbol) + ":" + timeframe
}

// InitSchema creates the per-kind cache tables if they do not exist.
func (r *Repository) InitSchema() error {
	for _, table := range tableFor {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			pair_key   TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			stored_at  INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`, table)
		if _, err := r.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create cache table %s: %w", table, err)
		}
	}
	return nil
}

func tableName(kind market.Kind) (string, error) {
	table, ok := tableFor[kind]
	if !ok {
		return "", fmt.Errorf("no cache table for dataset kind: %s", kind)
	}
	return table, nil
}

// Store saves a payload with expiration = now + ttl.
// Concurrent writes for the same key are last-write-wins by design:
// payloads for a given key are interchangeable snapshots of the same data.
func (r *Repository) Store(kind market.Kind, key string, payload market.Payload, ttl time.Duration) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := r.now()
	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (pair_key, data, stored_at, expires_at) VALUES (?, ?, ?, ?)",
		table,
	)

	_, err = r.db.Exec(query, key, string(jsonData), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh returns the entry only if it has not expired.
// Returns nil, nil if the key doesn't exist or the entry is stale -
// staleness is treated identically to absence here. Use Get() to retrieve
// stale entries as a fallback when every provider fails.
func (r *Repository) GetIfFresh(kind market.Kind, key string) (*Entry, error) {
	entry, err := r.Get(kind, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if !entry.Fresh(r.now()) {
		return nil, nil
	}
	return entry, nil
}

// Get returns the entry regardless of expiration status.
// Returns nil, nil if the key doesn't exist.
func (r *Repository) Get(kind market.Kind, key string) (*Entry, error) {
	table, err := tableName(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT data, stored_at, expires_at FROM %s WHERE pair_key = ?", table)

	var data string
	var storedAt, expiresAt int64
	err = r.db.QueryRow(query, key).Scan(&data, &storedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	return &Entry{
		Data:      json.RawMessage(data),
		StoredAt:  time.Unix(storedAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(kind market.Kind, key string) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE pair_key = ?", table)
	if _, err := r.db.Exec(query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// DeleteExpired removes all rows of one kind whose TTL has lapsed.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(kind market.Kind) (int64, error) {
	table, err := tableName(kind)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)
	result, err := r.db.Exec(query, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired removes expired entries from every kind table.
// Returns a map of kind to number of rows deleted.
func (r *Repository) DeleteAllExpired() (map[market.Kind]int64, error) {
	results := make(map[market.Kind]int64, len(tableFor))
	for kind := range tableFor {
		deleted, err := r.DeleteExpired(kind)
		if err != nil {
			return results, err
		}
		results[kind] = deleted
	}
	return results, nil
}
