package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type App struct {
	ID         string // unique application identifier
	Name       string // human readable name, unique
	Owner      string // token name of the user that registered the app
	SourceKind string // where the app code comes from (dir, git, file, archive)
	SourceRef  string // kind specific reference, e.g. a path or a git url
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func UpsertApp(ctx context.Context, pyhostDB *sql.DB, app *App) error {
	now := time.Now().Unix()

	query := `
		INSERT INTO apps (id, name, owner, source_kind, source_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, owner = excluded.owner, source_kind = excluded.source_kind,
			source_ref = excluded.source_ref, updated_at = excluded.updated_at
	`

	_, err := pyhostDB.ExecContext(ctx, query,
		app.ID, app.Name, app.Owner, app.SourceKind, app.SourceRef, now, now)
	return err
}

func GetAppByID(ctx context.Context, pyhostDB *sql.DB, appID string) (*App, error) {
	query := `SELECT id, name, owner, source_kind, source_ref, created_at, updated_at FROM apps WHERE id = ?`
	return scanApp(pyhostDB.QueryRowContext(ctx, query, appID))
}

func GetAppByName(ctx context.Context, pyhostDB *sql.DB, name string) (*App, error) {
	query := `SELECT id, name, owner, source_kind, source_ref, created_at, updated_at FROM apps WHERE name = ?`
	return scanApp(pyhostDB.QueryRowContext(ctx, query, name))
}

func ListApps(ctx context.Context, pyhostDB *sql.DB) ([]*App, error) {
	query := `SELECT id, name, owner, source_kind, source_ref, created_at, updated_at FROM apps ORDER BY created_at DESC`
	return listApps(ctx, pyhostDB, query)
}

func ListAppsByOwner(ctx context.Context, pyhostDB *sql.DB, owner string) ([]*App, error) {
	query := `SELECT id, name, owner, source_kind, source_ref, created_at, updated_at FROM apps WHERE owner = ? ORDER BY created_at DESC`
	return listApps(ctx, pyhostDB, query, owner)
}

func listApps(ctx context.Context, pyhostDB *sql.DB, query string, args ...any) ([]*App, error) {
	rows, err := pyhostDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		var createdAt, updatedAt int64
		app := &App{}
		if err := rows.Scan(&app.ID, &app.Name, &app.Owner, &app.SourceKind,
			&app.SourceRef, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		app.CreatedAt = time.Unix(createdAt, 0)
		app.UpdatedAt = time.Unix(updatedAt, 0)
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

func DeleteApp(ctx context.Context, pyhostDB *sql.DB, appID string) error {
	query := `DELETE FROM apps WHERE id = ?`
	_, err := pyhostDB.ExecContext(ctx, query, appID)
	return err
}

// IsNotFound reports whether err means the queried row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func scanApp(row *sql.Row) (*App, error) {
	var createdAt, updatedAt int64
	app := &App{}
	err := row.Scan(&app.ID, &app.Name, &app.Owner, &app.SourceKind,
		&app.SourceRef, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	app.CreatedAt = time.Unix(createdAt, 0)
	app.UpdatedAt = time.Unix(updatedAt, 0)
	return app, nil
}
