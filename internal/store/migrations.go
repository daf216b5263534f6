package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per actuator process lifetime
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pin_id INTEGER NOT NULL,
			driver TEXT NOT NULL,
			hold_ms INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			final_level TEXT CHECK(final_level IN ('LOW', 'HIGH')),
			cause TEXT
		)`,

		// Transitions table - every applied pin level change
		`CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			label TEXT NOT NULL,
			from_level TEXT NOT NULL CHECK(from_level IN ('LOW', 'HIGH')),
			to_level TEXT NOT NULL CHECK(to_level IN ('LOW', 'HIGH')),
			at DATETIME NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_transitions_run_id ON transitions(run_id, sequence)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
