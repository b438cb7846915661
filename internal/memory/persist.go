package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// snapshot is the JSON shape of one persisted conversation.
type snapshot struct {
	Turns           []Turn `json:"turns"`
	Summary         string `json:"summary,omitempty"`
	SummarizedTurns int    `json:"summarized_turns,omitempty"`
}

// Save writes all live conversations to a sqlite file so they survive
// a restart. Durability is best-effort: a failed save loses nothing in
// memory and a stale snapshot simply ages out through TTL on load.
func (s *Store) Save(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			key          TEXT NOT NULL PRIMARY KEY,
			data         TEXT NOT NULL,
			last_updated TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("snapshot migration: %w", err)
	}

	s.mu.Lock()
	type row struct {
		key         string
		data        []byte
		lastUpdated time.Time
	}
	rows := make([]row, 0, len(s.conversations))
	for key, conv := range s.conversations {
		data, err := json.Marshal(snapshot{
			Turns:           conv.turns,
			Summary:         conv.summary,
			SummarizedTurns: conv.summarizedTurns,
		})
		if err != nil {
			continue
		}
		rows = append(rows, row{key: key, data: data, lastUpdated: conv.lastUpdated})
	}
	s.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO conversations (key, data, last_updated)
			VALUES (?, ?, ?)
		`, r.key, string(r.data), r.lastUpdated.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("write conversation %q: %w", r.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	s.logger.Info("conversation snapshot saved", "path", path, "conversations", len(rows))
	return nil
}

// Load restores conversations from a sqlite snapshot. Entries already
// past their TTL are skipped. Missing files are not an error.
func (s *Store) Load(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot db: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT key, data, last_updated FROM conversations`)
	if err != nil {
		// A fresh deployment has no snapshot table yet.
		s.logger.Debug("no conversation snapshot to load", "path", path)
		return nil
	}
	defer rows.Close()

	loaded, skipped := 0, 0
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for rows.Next() {
		var key, data, lastUpdatedStr string
		if err := rows.Scan(&key, &data, &lastUpdatedStr); err != nil {
			return fmt.Errorf("scan snapshot row: %w", err)
		}

		lastUpdated, err := time.Parse(time.RFC3339Nano, lastUpdatedStr)
		if err != nil || now.Sub(lastUpdated) > s.cfg.TTL {
			skipped++
			continue
		}

		var snap snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			skipped++
			continue
		}

		s.conversations[key] = &conversation{
			turns:           snap.Turns,
			summary:         snap.Summary,
			summarizedTurns: snap.SummarizedTurns,
			lastUpdated:     lastUpdated,
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read snapshot rows: %w", err)
	}

	s.logger.Info("conversation snapshot loaded",
		"path", path,
		"conversations", loaded,
		"skipped", skipped,
	)
	return nil
}
