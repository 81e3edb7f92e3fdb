package cli

import (
	"github.com/rotisserie/eris"

	"github.com/splitpulse/splitpulse/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(cfg.DB)
	if err != nil {
		return eris.Wrap(err, "cli: open database")
	}
	defer s.Close()

	return fn(s)
}
