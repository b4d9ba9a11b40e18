package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const clientIDKey = "client_id"

// ClientID returns the persistent client identity, generating and storing a
// new one on first use. The same id is reused for the lifetime of the
// installation and stamped onto every queued mutation.
func (db *DB) ClientID() (string, error) {
	var id string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, clientIDKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("read client id: %w", err)
	}

	id = uuid.New().String()
	if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, clientIDKey, id); err != nil {
		return "", fmt.Errorf("store client id: %w", err)
	}
	return id, nil
}
