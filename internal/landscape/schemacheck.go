package landscape

import (
	stdsql "database/sql"
	"fmt"
)

// requiredTables are the tables 0001_init_schema.up.sql creates. Checked
// after migrations run so a partially-applied migration (or a database
// pointed at by the wrong DSN) fails Open immediately instead of
// surfacing as a confusing "relation does not exist" error on the first
// write a run attempts.
var requiredTables = []string{
	"runs", "nodes", "edges", "rows_", "tokens", "token_parents",
	"node_states", "routing_events", "batches", "batch_members",
	"calls", "artifacts", "checkpoints",
}

// checkSchema verifies every table in requiredTables exists in the
// public schema, using a plain database/sql query so it can run against
// the same connection runMigrations already opened.
func checkSchema(db *stdsql.DB) error {
	rows, err := db.Query(`SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`)
	if err != nil {
		return fmt.Errorf("landscape: query schema tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool, len(requiredTables))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("landscape: scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("landscape: read schema tables: %w", err)
	}

	var missing []string
	for _, want := range requiredTables {
		if !present[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("landscape: schema missing expected table(s) %v after migration", missing)
	}
	return nil
}
