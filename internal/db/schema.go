package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

// InitSchema applies the embedded migrations in file name order. The
// statements are re-runnable, booting on an existing database is safe.
func InitSchema(ctx context.Context, pyhostDB *sql.DB) error {
	entries, err := migrationFiles.ReadDir("migration")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		schema, err := migrationFiles.ReadFile("migration/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := pyhostDB.ExecContext(ctx, string(schema)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}

	return nil
}
