package checker

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ItemDB is the durable, SQLite-backed store of DatastoreCheckerItems. It
// survives process restarts; the Loader queries it to repopulate the
// in-memory queues after boot.
type ItemDB struct {
	db   *sql.DB
	path string
}

// NewItemDB opens (creating if necessary) a SQLite-backed item database at
// path.
func NewItemDB(path string) (*ItemDB, error) {
	if path == "" {
		path = "checker.db"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idb := &ItemDB{db: db, path: path}
	if err := idb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return idb, nil
}

func (idb *ItemDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checker_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		getter TEXT NOT NULL,
		node_db_handle TEXT NOT NULL,
		prio INTEGER NOT NULL,
		dont_cache INTEGER NOT NULL,
		chosen_by TEXT NOT NULL DEFAULT '',
		keys_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checker_items_prio ON checker_items(node_db_handle, prio);
	CREATE INDEX IF NOT EXISTS idx_checker_items_chosen ON checker_items(chosen_by);
	`

	if _, err := idb.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Put inserts a new item (ID == 0) or updates an existing one in place.
func (idb *ItemDB) Put(item *DatastoreCheckerItem) error {
	keysJSON, err := json.Marshal(item.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys: %w", err)
	}

	tx, err := idb.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if item.ID == 0 {
		res, err := tx.Exec(`
			INSERT INTO checker_items (getter, node_db_handle, prio, dont_cache, chosen_by, keys_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, item.Getter, item.NodeDBHandle, item.Prio, boolToInt(item.DontCache), item.ChosenBy, keysJSON)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		item.ID = id
	} else {
		_, err := tx.Exec(`
			UPDATE checker_items
			SET getter = ?, node_db_handle = ?, prio = ?, dont_cache = ?, chosen_by = ?, keys_json = ?
			WHERE id = ?
		`, item.Getter, item.NodeDBHandle, item.Prio, boolToInt(item.DontCache), item.ChosenBy, keysJSON, item.ID)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
	}

	return tx.Commit()
}

// Query returns every item for the given node installation and priority.
func (idb *ItemDB) Query(nodeDBHandle string, prio int) ([]*DatastoreCheckerItem, error) {
	rows, err := idb.db.Query(`
		SELECT id, getter, node_db_handle, prio, dont_cache, chosen_by, keys_json
		FROM checker_items WHERE node_db_handle = ? AND prio = ?
	`, nodeDBHandle, prio)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*DatastoreCheckerItem
	for rows.Next() {
		item := &DatastoreCheckerItem{}
		var dontCache int
		var keysJSON string
		if err := rows.Scan(&item.ID, &item.Getter, &item.NodeDBHandle, &item.Prio,
			&dontCache, &item.ChosenBy, &keysJSON); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.DontCache = dontCache != 0
		if err := json.Unmarshal([]byte(keysJSON), &item.Keys); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keys: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes an item. Deleting an ID that does not exist is not an
// error: the dispatch loop's database-goroutine callback deletes
// unconditionally once it decides a getter is gone.
func (idb *ItemDB) Delete(id int64) error {
	if _, err := idb.db.Exec(`DELETE FROM checker_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// IsStored reports whether an item with the given ID is still present.
func (idb *ItemDB) IsStored(id int64) (bool, error) {
	var count int
	err := idb.db.QueryRow(`SELECT COUNT(1) FROM checker_items WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check item: %w", err)
	}
	return count > 0, nil
}

// Close closes the underlying database handle.
func (idb *ItemDB) Close() error {
	return idb.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
