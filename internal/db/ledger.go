package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/winter-snowfall/wookiee-unicaster/internal/events"
)

// Ledger persists slot lifecycle transitions to a SQLite database for
// post-mortem debugging of peer churn (§10.7). It is an operator-facing
// audit trail only: the relay's state of record is the in-memory peer
// registry, never this table.
type Ledger struct {
	db  *Database
	log zerolog.Logger
}

// NewLedger opens (creating if necessary) the session-history database at
// path and runs its schema migration.
func NewLedger(path string, log zerolog.Logger) (*Ledger, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	l := &Ledger{db: database, log: log}
	if err := l.migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS slot_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			role      TEXT NOT NULL,
			event     TEXT NOT NULL,
			slot      INTEGER NOT NULL,
			peer      TEXT,
			at        TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Record inserts one slot lifecycle transition. It is called directly from
// an EventBus subscription closure so the role (SERVER/CLIENT) the ledger
// was opened for doesn't need to round-trip through the handler signature.
func (l *Ledger) Record(role string, ev events.Event) error {
	var peer interface{}
	if ev.Peer != nil {
		peer = ev.Peer.String()
	}

	_, err := l.db.Exec(
		`INSERT INTO slot_events (role, event, slot, peer, at) VALUES (?, ?, ?, ?, ?)`,
		role, string(ev.Type), ev.Slot, peer, ev.At.Format(time.RFC3339),
	)
	if err != nil {
		l.log.Error().Err(err).Msg("ledger: insert failed")
		return err
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
